package mcpserver

// RuleFormatContract describes keyword rules for LLM consumers creating or
// updating them through the rule tools.
const RuleFormatContract = `# tgmonitor Keyword Rule Format

A keyword rule decides whether a chat message is relayed to the destination
chat. Rules are JSON objects:

` + "```" + `json
{
  "content": "flash sale",
  "match_type": "contains",
  "action": "monitor",
  "case_sensitive": false,
  "style": {"bold": true, "italic": false, "underline": false,
            "strikethrough": false, "quote": false, "monospace": false, "spoiler": false}
}
` + "```" + `

## Match types

- ` + "`full_word`" + `: the whole message equals the content.
- ` + "`contains`" + `: the message contains the content.
- ` + "`regex`" + `: the content is a regular expression (RE2 syntax). Invalid patterns are rejected.
- ` + "`fuzzy`" + `: the content is split on ` + "`?`" + `; every part must appear in the message.
- ` + "`user`" + `: the content is a sender id or @username.

## Actions

- ` + "`monitor`" + `: a match relays the message.
- ` + "`exclude`" + `: a match drops the message, even when a monitor rule also matches.

A user rule with action monitor relays every message from that sender
without looking at the content.

## Rules

1. Content is trimmed and must not be empty.
2. Two rules with the same match type and the same content (ignoring case) are duplicates.
3. Style flags of every matching rule are combined and applied to the relayed text.
`
