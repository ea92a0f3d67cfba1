package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Parsing limits for configuration files. A config file is small by nature;
// anything past these bounds is hostile or corrupt.
const (
	maxConfigSize  = 1 << 20 // 1MB
	maxConfigDepth = 20
	maxConfigNodes = 10000
)

// safeUnmarshal parses YAML with size, depth, and node-count limits enforced
// before the target structure is populated.
func safeUnmarshal(data []byte, v any) error {
	if len(data) > maxConfigSize {
		return fmt.Errorf("config size %d bytes exceeds maximum %d bytes", len(data), maxConfigSize)
	}

	var root yaml.Node
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&root); err != nil {
		return fmt.Errorf("yaml parse error: %w", err)
	}

	nodes := 0
	if err := validateNode(&root, 0, &nodes); err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

func validateNode(node *yaml.Node, depth int, nodes *int) error {
	if depth > maxConfigDepth {
		return fmt.Errorf("yaml nesting depth %d exceeds maximum %d", depth, maxConfigDepth)
	}
	*nodes++
	if *nodes > maxConfigNodes {
		return fmt.Errorf("yaml node count exceeds maximum %d", maxConfigNodes)
	}

	childDepth := depth
	if node.Kind == yaml.MappingNode || node.Kind == yaml.SequenceNode {
		childDepth++
	}
	for _, child := range node.Content {
		if err := validateNode(child, childDepth, nodes); err != nil {
			return err
		}
	}
	return nil
}
