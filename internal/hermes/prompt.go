package hermes

import "strings"

// BuildPrompt wraps an order payload with context hints before it reaches the
// agent. /stars commands route to the curator protocol; everything else gets
// the conversational preamble.
func BuildPrompt(payload string) string {
	if strings.HasPrefix(strings.TrimSpace(payload), "/stars") {
		return "[Galaxy Order: /stars command]\n" +
			"\n" +
			"You are the STAR CURATOR. Execute the /stars command using the star-curator protocol.\n" +
			"\n" +
			"DATA FILE: .sisyphus/stars.json (this is the source of truth)\n" +
			"SYNC SCRIPT: tools/galaxy/stars-sync.sh\n" +
			"\n" +
			"For /stars list:\n" +
			"1. Read .sisyphus/stars.json with the Read tool\n" +
			"2. Parse the JSON to extract lists and repos\n" +
			"3. Return a summary: list names with repo counts\n" +
			"\n" +
			"For /stars audit:\n" +
			"1. Fetch GitHub stars: gh api user/starred --paginate --jq '.[].full_name'\n" +
			"2. Compare against .sisyphus/stars.json repos\n" +
			"3. Report orphans (starred but not in config)\n" +
			"\n" +
			"RESPOND CONCISELY for Telegram.\n" +
			"\n" +
			"Command: " + payload
	}

	return "[Galaxy Order via Telegram]\n" +
		"\n" +
		"MODE: This is a Telegram CONVERSATION. Chat, discuss, answer questions.\n" +
		"Do NOT build, code, or create files here. Substantial work happens in the\n" +
		"building environment (opencode sessions), not through Telegram.\n" +
		"If the user asks you to build something, acknowledge and note it — the\n" +
		"building environment will pick it up.\n" +
		"\n" +
		"WORKSPACE: You may create files in the project as directed.\n" +
		"- You may READ files anywhere for context\n" +
		"- Follow the user's instructions about where to write files.\n" +
		"\n" +
		"Conversation history: .sisyphus/notepads/galaxy-orders-archive/ (orders) " +
		"and .sisyphus/notepads/galaxy-order-response-*.md (responses)\n" +
		"Read ONLY the last 3 responses if you need context. Do NOT read all history.\n" +
		"\n" +
		"RESPOND CONCISELY. This is a Telegram chat — keep replies short and direct.\n" +
		"\n" + payload
}
