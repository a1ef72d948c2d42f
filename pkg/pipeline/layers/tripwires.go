// Package layers provides the concrete security layers wired into the
// default pipeline: deterministic tripwires, per-agent velocity caps, intent
// schema validation, CEL policy evaluation, trust-band gating, and
// prompt-injection heuristics.
package layers

import (
	"context"
	"regexp"
	"time"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline"
)

// tripwire is one hard-coded forbidden pattern. A match blocks the intent
// immediately; no trust level can override a tripwire.
type tripwire struct {
	name     string
	re       *regexp.Regexp
	severity pipeline.Severity
	message  string
}

func tw(name, pattern string, sev pipeline.Severity, message string) tripwire {
	return tripwire{name: name, re: regexp.MustCompile("(?i)" + pattern), severity: sev, message: message}
}

// Patterns are deterministic, fast, and absolute. The set covers filesystem
// destruction, disk formatting, fork bombs, destructive SQL, privilege
// escalation, reverse shells, credential theft, remote-script execution, and
// environment destruction.
var tripwires = []tripwire{
	tw("rm_recursive_root", `rm\s+(-[rRfv]*\s+)*["']?/["']?\s*$|rm\s+(-[rRfv]*\s+)*/\s`,
		pipeline.SeverityCritical, "recursive deletion of root filesystem"),
	tw("rm_rf_wildcard", `rm\s+-[rRf]*\s+\*|rm\s+-[rRf]*\s+/\*`,
		pipeline.SeverityCritical, "recursive deletion with wildcard"),
	tw("rmdir_system", `rmdir\s+(-[rRfpv]*\s+)*/(etc|var|usr|bin|boot|sys|lib|root)`,
		pipeline.SeverityCritical, "removal of critical system directory"),
	tw("mkfs_any", `mkfs\.\w+\s+/dev/`,
		pipeline.SeverityCritical, "filesystem format command"),
	tw("dd_destroy", `dd\s+.*of=/dev/(sd[a-z]|hd[a-z]|nvme|vd[a-z])`,
		pipeline.SeverityCritical, "low-level disk write"),
	tw("fork_bomb_bash", `:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;`,
		pipeline.SeverityCritical, "bash fork bomb"),
	tw("fork_bomb_function", `\w+\(\)\s*\{\s*\w+\s*\|\s*\w+\s*&\s*\}\s*;`,
		pipeline.SeverityCritical, "fork bomb pattern"),
	tw("drop_table", `DROP\s+(TABLE|DATABASE|SCHEMA)\s+`,
		pipeline.SeverityCritical, "SQL DROP statement"),
	tw("truncate_table", `TRUNCATE\s+(TABLE\s+)?\w+`,
		pipeline.SeverityHigh, "SQL TRUNCATE statement"),
	tw("delete_all", `DELETE\s+FROM\s+\w+\s*(WHERE\s+1\s*=\s*1|;|\s*$)`,
		pipeline.SeverityCritical, "SQL DELETE without bounding WHERE clause"),
	tw("chmod_world_writable", `chmod\s+(-[rRv]*\s+)*777\s+/`,
		pipeline.SeverityCritical, "world-writable permissions on system path"),
	tw("chown_root", `chown\s+(-[rRv]*\s+)*root:root\s+/`,
		pipeline.SeverityHigh, "ownership change to root on system path"),
	tw("reverse_shell_bash", `bash\s+-[ic]\s+["'].*(/dev/tcp/|nc\s+-[el]|ncat)`,
		pipeline.SeverityCritical, "reverse shell pattern"),
	tw("netcat_shell", `nc\s+(-[elnvp]*\s+)*.*\|\s*/bin/(ba)?sh`,
		pipeline.SeverityCritical, "netcat shell pipe"),
	tw("cat_shadow", `cat\s+(/etc/shadow|/etc/passwd)`,
		pipeline.SeverityHigh, "access to password file"),
	tw("export_ssh_keys", `cat\s+.*\.ssh/(id_rsa|id_ed25519|authorized_keys)`,
		pipeline.SeverityHigh, "SSH key access"),
	tw("curl_bash", `curl\s+.*\|\s*(ba)?sh|wget\s+.*\|\s*(ba)?sh`,
		pipeline.SeverityCritical, "remote script execution pattern"),
	tw("download_execute", `(curl|wget)\s+.*&&\s*(chmod\s+\+x|sh\s|bash\s)`,
		pipeline.SeverityCritical, "download and execute pattern"),
	tw("format_drive", `format\s+[a-zA-Z]:\s*/[qQyY]`,
		pipeline.SeverityCritical, "drive format command"),
	tw("del_system32", `(del|rd|rmdir)\s+.*[Ss]ystem32`,
		pipeline.SeverityCritical, "deletion of Windows System32"),
	tw("reg_delete_hklm", `reg\s+delete\s+HKLM`,
		pipeline.SeverityCritical, "registry deletion under HKLM"),
	tw("unset_path", `(unset|export)\s+PATH\s*=\s*$`,
		pipeline.SeverityHigh, "PATH variable destruction"),
	tw("history_clear", `history\s+-c|rm\s+.*\.bash_history|>\s*~/.bash_history`,
		pipeline.SeverityMedium, "command history destruction"),
}

// TripwireLayer denies intents whose action text matches any forbidden
// pattern. Deterministic regex only; runs before anything probabilistic.
type TripwireLayer struct{}

func NewTripwireLayer() *TripwireLayer { return &TripwireLayer{} }

func (l *TripwireLayer) Config() pipeline.LayerConfig {
	return pipeline.LayerConfig{
		ID:            "tripwires",
		Name:          "Deterministic Tripwires",
		Tier:          pipeline.TierPreFlight,
		PrimaryThreat: "destructive_commands",
		FailMode:      pipeline.FailBlock,
		Required:      true,
		Timeout:       100 * time.Millisecond,
	}
}

func (l *TripwireLayer) ValidateInput(in *pipeline.Input) error {
	return requireIntent(in)
}

func (l *TripwireLayer) Execute(_ context.Context, in *pipeline.Input) (*pipeline.LayerResult, error) {
	for _, t := range tripwires {
		if m := t.re.FindString(in.Intent.Action); m != "" {
			return &pipeline.LayerResult{
				Passed:     false,
				Action:     intent.ActionDeny,
				Confidence: 1.0,
				RiskLevel:  t.severity,
				Findings: []pipeline.Finding{{
					LayerID:  "tripwires",
					Code:     t.name,
					Severity: t.severity,
					Message:  t.message,
					Metadata: map[string]any{"matched": m},
				}},
			}, nil
		}
	}
	return &pipeline.LayerResult{Passed: true, Action: intent.ActionAllow, Confidence: 1.0}, nil
}

func (l *TripwireLayer) HealthCheck(context.Context) pipeline.HealthStatus {
	return pipeline.HealthStatus{Healthy: true}
}

func (l *TripwireLayer) Reset() {}

// PatternCatalog lists the active tripwire names and severities for
// documentation endpoints.
func PatternCatalog() map[string]string {
	out := make(map[string]string, len(tripwires))
	for _, t := range tripwires {
		out[t.name] = string(t.severity)
	}
	return out
}
