package permission

import (
	"fmt"
	"strings"
)

// Policy describes how a platform handles runtime permissions.
type Policy int

const (
	// PolicyUnsupported platforms have no permission set for BLE scanning.
	PolicyUnsupported Policy = iota
	// PolicyPrompt platforms ask the user at runtime.
	PolicyPrompt
	// PolicyNoPrompt platforms declare permissions statically; nothing needs to be requested.
	PolicyNoPrompt
)

var policyNames = map[Policy]string{
	PolicyUnsupported: "unsupported",
	PolicyPrompt:      "prompt",
	PolicyNoPrompt:    "none",
}

func (p Policy) String() string {
	return policyNames[p]
}

// Set parses a policy name. It implements flag.Value.
func (p *Policy) Set(value string) error {
	for policy, name := range policyNames {
		if strings.EqualFold(name, value) {
			*p = policy
			return nil
		}
	}
	return fmt.Errorf("unknown permission policy '%s'", value)
}

// DefaultPolicy returns the policy for the operating system named by goos (as in
// runtime.GOOS).
func DefaultPolicy(goos string) Policy {
	switch goos {
	case "android":
		return PolicyPrompt
	case "linux", "darwin", "windows", "ios":
		return PolicyNoPrompt
	}
	return PolicyUnsupported
}
