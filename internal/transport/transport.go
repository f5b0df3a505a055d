// Package transport describes how the protocol connection reaches the network:
// directly, through a SOCKS5 proxy or through an MTProxy.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/net/proxy"
)

// Proxy types.
const (
	TypeNone    = "none"
	TypeSOCKS5  = "socks5"
	TypeMTProxy = "mtproxy"
)

// Config selects the transport. URL is "socks5://[user:pass@]host:port" for
// SOCKS5 and a "tg://proxy?server=..&port=..&secret=.." (or https://t.me/proxy)
// link for MTProxy.
type Config struct {
	Type string `yaml:"type" json:"type"`
	URL  string `yaml:"url"  json:"url"`
}

// Direct is the zero-proxy transport.
var Direct = Config{Type: TypeNone}

// Normalize lowercases the type and maps the legacy "socks" name.
func (c Config) Normalize() Config {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	c.URL = strings.TrimSpace(c.URL)
	switch c.Type {
	case "", "direct":
		c.Type = TypeNone
	case "socks":
		c.Type = TypeSOCKS5
	case "mtproto":
		c.Type = TypeMTProxy
	}
	return c
}

// Validate validates the transport configuration.
func (c *Config) Validate() error {
	*c = c.Normalize()
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Type, validation.Required, validation.In(TypeNone, TypeSOCKS5, TypeMTProxy)),
		validation.Field(&c.URL, validation.When(c.Type != TypeNone, validation.Required)),
	); err != nil {
		return err
	}
	switch c.Type {
	case TypeSOCKS5:
		_, err := c.socksURL()
		return err
	case TypeMTProxy:
		_, err := c.MTProxy()
		return err
	}
	return nil
}

func (c Config) socksURL() (*url.URL, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse socks5 url: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("transport: unsupported socks scheme %q", u.Scheme)
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("transport: socks5 url %q has no port", c.URL)
	}
	return u, nil
}

// Dialer returns a context-aware dialer for the transport. MTProxy is handled
// by the protocol side, so it dials directly here.
func (c Config) Dialer() (proxy.ContextDialer, error) {
	direct := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if c.Normalize().Type != TypeSOCKS5 {
		return direct, nil
	}
	u, err := c.Normalize().socksURL()
	if err != nil {
		return nil, err
	}
	var auth *proxy.Auth
	if u.User != nil {
		pass, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: pass}
	}
	d, err := proxy.SOCKS5("tcp", u.Host, auth, direct)
	if err != nil {
		return nil, fmt.Errorf("transport: socks5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("transport: socks5 dialer does not support contexts")
	}
	return cd, nil
}

// DialContext is a convenience for Dialer().DialContext.
func (c Config) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d, err := c.Dialer()
	if err != nil {
		return nil, err
	}
	return d.DialContext(ctx, network, addr)
}

// MTProxySettings holds the parts of an MTProxy link.
type MTProxySettings struct {
	Server string
	Port   string
	Secret string
}

// MTProxy parses the MTProxy link.
func (c Config) MTProxy() (MTProxySettings, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return MTProxySettings{}, fmt.Errorf("transport: parse mtproxy url: %w", err)
	}
	q := u.Query()
	s := MTProxySettings{Server: q.Get("server"), Port: q.Get("port"), Secret: q.Get("secret")}
	if s.Server == "" || s.Port == "" || s.Secret == "" {
		return MTProxySettings{}, fmt.Errorf("transport: mtproxy url needs server, port and secret")
	}
	return s, nil
}

// String renders the config for logs with credentials and secrets removed.
func (c Config) String() string {
	c = c.Normalize()
	switch c.Type {
	case TypeSOCKS5:
		if u, err := url.Parse(c.URL); err == nil {
			if u.User != nil {
				u.User = url.User(u.User.Username())
			}
			return c.Type + " " + u.String()
		}
	case TypeMTProxy:
		if s, err := c.MTProxy(); err == nil {
			return c.Type + " " + net.JoinHostPort(s.Server, s.Port)
		}
	}
	return c.Type
}
