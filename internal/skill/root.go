// Package skill resolves the skill root directory and loads per-SUT
// configuration (connection, auth, preset variables, spec locations).
package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveRoot locates the skill root: the directory holding configs/.
// An explicit TIDBCLOUD_SKILLS_DIR (or SKILL_DIR) wins; otherwise the
// search walks up from start looking for a configs/ directory.
func ResolveRoot(start string) (string, error) {
	for _, env := range []string{"TIDBCLOUD_SKILLS_DIR", "SKILL_DIR"} {
		if explicit := os.Getenv(env); explicit != "" {
			abs, err := filepath.Abs(explicit)
			if err != nil {
				return "", fmt.Errorf("resolve %s: %w", env, err)
			}
			return abs, nil
		}
	}

	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		start = cwd
	}
	start, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	// Repo-root layout: skill kept under skills/tidbcloud-skills.
	repoSkill := filepath.Join(start, "skills", "tidbcloud-skills")
	if isDir(filepath.Join(repoSkill, "configs")) {
		return repoSkill, nil
	}

	for dir := start; ; dir = filepath.Dir(dir) {
		if isDir(filepath.Join(dir, "configs")) {
			return dir, nil
		}
		if filepath.Dir(dir) == dir {
			break
		}
	}

	return "", fmt.Errorf(
		"cannot locate skill root (missing ./configs); run from the skill directory or set TIDBCLOUD_SKILLS_DIR")
}

// CanonicalSUTName normalizes a SUT name for use as a directory key.
func CanonicalSUTName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	return strings.ReplaceAll(name, "-", "_")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
