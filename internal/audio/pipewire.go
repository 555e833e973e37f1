package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
)

// PipeWire manages PipeWire port queries
type PipeWire struct {
	run func(name string, args ...string) ([]byte, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{run: func(name string, args ...string) ([]byte, error) {
		return exec.Command(name, args...).Output()
	}}
}

// ListPorts returns all output ports via pw-link. Capture devices show up
// as output ports of their node.
func (pw *PipeWire) ListPorts() ([]string, error) {
	output, err := pw.run("pw-link", "-o")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

// ListNodes groups capture ports by node. Monitor ports of playback sinks
// are skipped.
func (pw *PipeWire) ListNodes() ([]Source, error) {
	ports, err := pw.ListPorts()
	if err != nil {
		return nil, err
	}
	return nodesFromPorts(ports), nil
}

// ValidateNode checks that a node exists and is not ambiguous
func (pw *PipeWire) ValidateNode(node string) error {
	if node == "" {
		return nil
	}

	ports, err := pw.ListPorts()
	if err != nil {
		return fmt.Errorf("failed to check node: %w", err)
	}
	return validateNodeInList(node, ports)
}

func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

// splitPort splits "node:port" at the last colon.
func splitPort(port string) (node, name string) {
	i := strings.LastIndex(port, ":")
	if i < 0 {
		return port, ""
	}
	return port[:i], port[i+1:]
}

func nodesFromPorts(ports []string) []Source {
	counts := make(map[string]int)
	for _, port := range ports {
		node, name := splitPort(port)
		if strings.HasPrefix(name, "monitor_") {
			continue
		}
		counts[node]++
	}

	sources := make([]Source, 0, len(counts))
	for node, n := range counts {
		sources = append(sources, Source{Name: node, Channels: n})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources
}

// validateNodeInList reports a missing node, or a node name that appears
// under more than one PipeWire node id (two instances of the same app).
func validateNodeInList(node string, ports []string) error {
	seen := make(map[string]int)
	found := false
	for _, port := range ports {
		n, name := splitPort(port)
		if n != node {
			continue
		}
		found = true
		seen[name]++
	}
	if !found {
		slog.Debug("PipeWire node not found", "node", node)
		return fmt.Errorf("node not found: %s", node)
	}

	var duplicates []string
	for name, count := range seen {
		if count > 1 {
			duplicates = append(duplicates, node+":"+name)
		}
	}
	if len(duplicates) > 0 {
		sort.Strings(duplicates)
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", node, duplicates)
	}
	return nil
}
