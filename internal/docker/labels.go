package docker

import (
	"fmt"

	"github.com/docker/docker/api/types/filters"
	"github.com/google/uuid"
)

// Label keys used for boardlink containers
const (
	LabelProject = "boardlink.project"
	LabelSession = "boardlink.session"
	LabelRunID   = "boardlink.run_id"
	LabelProcess = "boardlink.process"
)

// BuildLabels creates the standard label set for a managed container.
func BuildLabels(session, runID, process string) map[string]string {
	return map[string]string{
		LabelProject: "true",
		LabelSession: session,
		LabelRunID:   runID,
		LabelProcess: process,
	}
}

// GenerateRunID creates a new UUID for a supervisor run.
// Each supervisor instance gets a unique run ID.
func GenerateRunID() string {
	return uuid.New().String()
}

// ContainerName returns the container name for a managed process
func ContainerName(session, process string) string {
	return fmt.Sprintf("boardlink-%s-%s", session, process)
}

// ProcessFilter selects every container, from any run, belonging to one
// process of a session.
func ProcessFilter(session, process string) filters.Args {
	return filters.NewArgs(
		filters.Arg("label", fmt.Sprintf("%s=%s", LabelSession, session)),
		filters.Arg("label", fmt.Sprintf("%s=%s", LabelProcess, process)),
	)
}
