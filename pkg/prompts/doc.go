// Package prompts loads per-agent prompt configs from YAML.
//
// Defaults are embedded in the binary. A directory of <agent>.yaml files can
// override them; with watching enabled, edits in that directory are picked
// up on the next Get without a restart.
package prompts
