package policy

import "regexp"

// Built-in pattern names
const (
	PatternRemoteFetchExecute = "remote-fetch-execute"
	PatternIndirectEvaluation = "indirect-evaluation"
	PatternEncodedCommand     = "encoded-command"
	PatternShellEscape        = "shell-escape"
	PatternControlCharacter   = "control-character"
)

// defaultPatterns returns the built-in deny list
func defaultPatterns() []BlockedPattern {
	return []BlockedPattern{
		{
			Name: PatternRemoteFetchExecute,
			re: regexp.MustCompile(`(?i)(` +
				`\b(curl|wget)\b[^|;&]*\|\s*(ba|z|k|da)?sh\b` +
				`|net\.webclient` +
				`|downloadstring\s*\(` +
				`|downloadfile\s*\(` +
				`|\b(iwr|irm|invoke-webrequest|invoke-restmethod|start-bitstransfer)\b` +
				`|\bcertutil(\.exe)?\b.*-urlcache` +
				`|\bbitsadmin\b.*/transfer` +
				`|\bmshta\b\s+https?:` +
				`)`),
		},
		{
			Name: PatternIndirectEvaluation,
			re: regexp.MustCompile(`(?i)(` +
				`\b(invoke-expression|iex)\b` +
				`|\[scriptblock\]::create` +
				`|\binvoke-command\b` +
				`|\badd-type\b` +
				`|\beval\s*[\("'$]` +
				`|\bexec\s*\(` +
				`|\bstart-process\b` +
				`)`),
		},
		{
			Name: PatternEncodedCommand,
			re: regexp.MustCompile(`(?i)(` +
				`(^|\s)-e(nc|ncodedcommand|c)?\s+[a-z0-9+/=]{16,}` +
				`|frombase64string` +
				`|\bbase64\s+(-d|--decode)\b` +
				`|\\x[0-9a-f]{2}` +
				`)`),
		},
		{
			Name: PatternShellEscape,
			re: regexp.MustCompile(`(?i)(` +
				"`" +
				`|\$\(` +
				`|&&|\|\|` +
				`|[;|&]\s*(rm|del|rd|format|shutdown|reboot|powershell|pwsh|cmd|bash|sh|curl|wget|nc|ncat)\b` +
				`|\bcmd(\.exe)?\s+/c\b` +
				`|>\s*/dev/` +
				`|<\(` +
				`)`),
		},
		{
			Name: PatternControlCharacter,
			re:   regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`),
		},
	}
}
