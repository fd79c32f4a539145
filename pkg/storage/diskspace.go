package storage

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// checkFreeSpace verifies the filesystem holding path has at least minGB
// gigabytes free before a store is opened there.
func checkFreeSpace(log *logrus.Logger, path string, minGB int) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}

	usage, err := disk.Usage(path)
	if err != nil {
		log.WithFields(logrus.Fields{
			"path": path,
		}).Errorf("Error retrieving disk usage stats: %v", err)
		return err
	}

	totalSpace := float64(usage.Total) / 1e9
	freeSpace := float64(usage.Free) / 1e9

	log.WithFields(logrus.Fields{
		"Path":       path,
		"Total (GB)": fmt.Sprintf("%.2f", totalSpace),
		"Used (GB)":  fmt.Sprintf("%.2f", totalSpace-freeSpace),
		"Free (GB)":  fmt.Sprintf("%.2f", freeSpace),
	}).Info("Disk Usage")

	if minGB > 0 && usage.Free < uint64(minGB)*1e9 {
		return fmt.Errorf("only %.2f GB free at %s, %d GB required", freeSpace, path, minGB)
	}

	return nil
}
