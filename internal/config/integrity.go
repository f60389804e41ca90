package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// checksumSuffix is appended to the config path for integrity records.
const checksumSuffix = ".checksum"

// ComputeHash computes the BLAKE3 hash of a file.
func ComputeHash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Lock writes the current BLAKE3 checksum of the config file, authorizing
// its present contents. Subsequent loads verify against this record.
func Lock(configPath string) (string, error) {
	hash, err := ComputeHash(configPath)
	if err != nil {
		return "", err
	}
	record := hash + "  " + filepath.Base(configPath) + "\n"
	if err := os.WriteFile(configPath+checksumSuffix, []byte(record), 0o644); err != nil {
		return "", fmt.Errorf("failed to write checksum file: %w", err)
	}
	return hash, nil
}

// VerifyIntegrity checks the config file against its recorded checksum.
// A missing checksum file is not an error: integrity checking is opt-in
// via the lock command.
func VerifyIntegrity(configPath string) error {
	record, err := os.ReadFile(configPath + checksumSuffix)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read checksum file: %w", err)
	}

	fields := strings.Fields(string(record))
	if len(fields) < 1 {
		return fmt.Errorf("malformed checksum file: %s", configPath+checksumSuffix)
	}
	expected := fields[0]

	actual, err := ComputeHash(configPath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if actual != expected {
		return fmt.Errorf("config integrity check failed for %s: expected %s, got %s\n"+
			"Hint: run 'orchestrator config lock' to authorize the current contents",
			filepath.Base(configPath), expected, actual)
	}
	return nil
}
