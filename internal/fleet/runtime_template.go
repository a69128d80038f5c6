package fleet

import (
	"strconv"

	"github.com/herdctl/herdctl/internal/domain"
	"github.com/herdctl/herdctl/internal/runtime"
)

// defaultCommandTemplate builds the argv for the default ExecRuntime: the
// agent's configured model selects the binary (falling back to "herd-agent"
// in $PATH), prompt and session id are passed as flags. Concrete
// deployments are expected to supply their own Options.Runtime; this
// template only has to be plausible enough to exercise ExecRuntime in
// tests and a minimal standalone deployment.
func defaultCommandTemplate(agent domain.Agent, req runtime.ExecuteRequest) []string {
	bin := agent.Model
	if bin == "" {
		bin = "herd-agent"
	}
	argv := []string{bin, "--prompt", req.Prompt}
	if req.SessionID != "" {
		argv = append(argv, "--session", req.SessionID)
	}
	if agent.PermissionMode != "" {
		argv = append(argv, "--permission-mode", agent.PermissionMode)
	}
	if agent.MaxTurns > 0 {
		argv = append(argv, "--max-turns", strconv.Itoa(agent.MaxTurns))
	}
	return argv
}
