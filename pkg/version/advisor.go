package version

import (
	"errors"
	"fmt"

	"github.com/ravi-parthasarathy/keel/pkg/component"
	"github.com/ravi-parthasarathy/keel/pkg/release"
)

// ChangelogAdvisor warns when a plan bumps the version of c but the
// changelog has nothing to release. The changelog is only read.
func ChangelogAdvisor(c *component.Component) release.Advisor {
	return release.AdvisorFunc(func(steps []release.StepDefinition) []string {
		bumps := false
		for _, s := range steps {
			if s.Type == release.StepTypeVersionBump {
				bumps = true
				break
			}
		}
		path := c.ChangelogPath()
		if !bumps || path == "" {
			return nil
		}

		latest, notes, err := LatestRelease(path)
		switch {
		case errors.Is(err, ErrNoUnreleased):
			return []string{fmt.Sprintf("changelog %s has no Unreleased section; version_bump will fail", c.Changelog)}
		case err != nil:
			return []string{fmt.Sprintf("changelog %s could not be read: %v", c.Changelog, err)}
		case notes == "" && latest != "" && isCurrent(c, latest):
			// Finalized by an earlier run of this release.
			return nil
		case notes == "":
			return []string{fmt.Sprintf("changelog %s has an empty Unreleased section; version_bump will fail", c.Changelog)}
		}
		return nil
	})
}

func isCurrent(c *component.Component, v string) bool {
	current, err := Read(c)
	return err == nil && current == v
}
