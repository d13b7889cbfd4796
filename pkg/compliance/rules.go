package compliance

import (
	"sort"
	"strings"

	"github.com/seqops/seqaudit/pkg/config"
)

// Violation codes reported per app.
const (
	ViolationNamePrefix      = "name_prefix"
	ViolationRegion          = "region"
	ViolationInterpreter     = "interpreter"
	ViolationTimeoutPolicy   = "timeout_policy"
	ViolationAuthorizedUsers = "authorized_users"
	ViolationAuthorizedDevs  = "authorized_devs"
	ViolationErrorExit       = "error_exit"
)

// Evaluate applies the manifest rules. script is the entry script
// referenced by the manifest's runSpec, empty when it could not be
// fetched; the error-exit check is skipped for non-shell interpreters.
func Evaluate(
	rules *config.ManifestRules, m *Manifest, script []byte,
) []string {
	var violations []string

	if rules.RequiredPrefix != "" &&
		!strings.HasPrefix(m.Name, rules.RequiredPrefix) {
		violations = append(violations, ViolationNamePrefix)
	}

	if len(rules.AllowedRegions) > 0 && !regionsAllowed(rules, m) {
		violations = append(violations, ViolationRegion)
	}

	if len(rules.Interpreters) > 0 &&
		!containsString(rules.Interpreters, m.RunSpec.Interpreter) {
		violations = append(violations, ViolationInterpreter)
	}

	if rules.RequireTimeoutPolicy && len(m.RunSpec.TimeoutPolicy) == 0 {
		violations = append(violations, ViolationTimeoutPolicy)
	}

	if len(rules.AuthorizedUsers) > 0 &&
		!sameStringSet(rules.AuthorizedUsers, m.AuthorizedUsers) {
		violations = append(violations, ViolationAuthorizedUsers)
	}

	if len(rules.AuthorizedDevs) > 0 &&
		!sameStringSet(rules.AuthorizedDevs, m.Developers) {
		violations = append(violations, ViolationAuthorizedDevs)
	}

	if rules.RequireErrorExit && isShell(m.RunSpec.Interpreter) &&
		!hasErrorExit(script) {
		violations = append(violations, ViolationErrorExit)
	}

	return violations
}

// regionsAllowed reports whether every enabled region is allowed and at
// least one region is configured.
func regionsAllowed(rules *config.ManifestRules, m *Manifest) bool {
	if len(m.RegionalOptions) == 0 {
		return false
	}

	for region := range m.RegionalOptions {
		if !containsString(rules.AllowedRegions, region) {
			return false
		}
	}

	return true
}

func isShell(interpreter string) bool {
	return interpreter == "bash" || interpreter == "sh"
}

// hasErrorExit reports whether a shell script enables exit-on-error,
// either via `set -e...` or a combined option string like `set -exuo`.
func hasErrorExit(script []byte) bool {
	for _, line := range strings.Split(string(script), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "set -") {
			continue
		}

		flags := strings.TrimPrefix(line, "set -")
		if i := strings.IndexAny(flags, " \t"); i >= 0 {
			flags = flags[:i]
		}

		if strings.ContainsRune(flags, 'e') {
			return true
		}
	}

	return false
}

func containsString(set []string, value string) bool {
	for _, s := range set {
		if s == value {
			return true
		}
	}

	return false
}

// sameStringSet compares two string slices regardless of order.
func sameStringSet(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}

	a := append([]string(nil), want...)
	b := append([]string(nil), got...)
	sort.Strings(a)
	sort.Strings(b)

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
