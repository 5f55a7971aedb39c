package cli

import (
	"fmt"
	"time"

	"github.com/carlosvargasvip/proxmox-scripts/internal/proxmox"
)

const taskPollInterval = 3 * time.Second

// waitForTask polls a storage task until it stops or the timeout passes.
// Only the auxiliary tools use this; VM migrations go through the
// balancer's supervisor.
func waitForTask(client proxmox.ClusterClient, node string, task proxmox.TaskID, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, err := client.TaskStatus(node, task)
		if err == nil && status.Stopped() {
			if status.Succeeded() {
				return nil
			}
			return fmt.Errorf("task finished with exit status %q", status.ExitStatus)
		}
		if time.Now().Add(taskPollInterval).After(deadline) {
			return fmt.Errorf("task did not finish within %s", timeout)
		}
		time.Sleep(taskPollInterval)
	}
}
