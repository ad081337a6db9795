package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"walletscope/internal/model"
)

// WriteClusterReport writes one cluster per JSON line, replacing any
// previous report at path.
func WriteClusterReport(path string, clusters []model.Cluster) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, cluster := range clusters {
		line, err := json.Marshal(cluster)
		if err != nil {
			return fmt.Errorf("marshal cluster: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write cluster: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
