package main

// User-facing CLI strings.
const (
	RootUse   = "mcp-firewall [flags] [-- target-command args...]"
	RootShort = "Human-approval firewall for MCP tool calls"
	RootLong  = `mcp-firewall sits between an AI agent and an MCP server on stdio.

Tool calls the policy allows pass straight through. Blocked calls are
held, and the agent is told to ask the user for a one-time approval code;
the call runs only after the agent submits that code with firewall_confirm.

The target server is given either as a shell command with --target or as
an argument list after "--".`
	RootExample = `  mcp-firewall --target "npx -y @stripe/mcp --tools=all" --name stripe
  mcp-firewall --config ./rules.toml -- python -m my_server`

	FlagTarget  = "Shell command that starts the target MCP server"
	FlagName    = "Server name for per-server rule overrides (env FIREWALL_SERVER_NAME)"
	FlagConfig  = "Path to the firewall config (.json, .jsonc, .toml, .yaml)"
	FlagVerbose = "Enable debug logging"
	FlagLogFile = "Also append logs to this file (env FIREWALL_LOG_FILE)"

	ErrNoTarget        = "a target command is required: use --target or pass it after --"
	ErrTargetTwice     = "give the target either with --target or after --, not both"
	ErrStrayArgs       = "unexpected arguments %q: put the target command after --"
	ErrConfigExistsFmt = "%s already exists; remove it first to regenerate"

	LogStarting      = "firewall starting"
	LogServerMissing = "server not found in config, using global rules only"

	GenerateUse     = "generate-config"
	GenerateShort   = "Write a starter firewall_config.json in the current directory"
	GenerateDoneFmt = "Wrote %s\n"
	GenerateNextFmt = "Edit it, then run: mcp-firewall --config %s --target \"<server command>\"\n"

	CheckUse     = "check <tool>..."
	CheckShort   = "Show how the policy treats tool names"
	CheckLineFmt = "%s  %s  (%s)\n"
	CheckHeadFmt = "config: %s  server: %s  default: %s\n"
	CheckNoName  = "(global)"

	VersionUse   = "version"
	VersionShort = "Print version information"

	VersionCommitFmt = "commit %s"
	VersionBuildFmt  = "built %s"
	VersionFullFmt   = "%s (%s)"
	VersionTemplate  = "{{.Version}}\n"
)
