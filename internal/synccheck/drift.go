package synccheck

import "time"

// buildReport compares disk and store path->hash maps into the four
// drift buckets using an O(n+m) map-keyed comparison rather than a
// nested loop.
func buildReport(projectPath string, disk, store map[string]string, truncated bool) *DriftReport {
	report := &DriftReport{
		ProjectPath: projectPath,
		GeneratedAt: time.Now().UTC(),
		Truncated:   truncated,
	}

	for path, diskHash := range disk {
		storeHash, inStore := store[path]
		switch {
		case !inStore:
			report.MissingFromMcp = append(report.MissingFromMcp, FileDrift{Path: path, DiskHash: diskHash})
		case storeHash != diskHash:
			report.ContentMismatch = append(report.ContentMismatch, FileDrift{Path: path, DiskHash: diskHash, StoreHash: storeHash})
		default:
			report.UpToDate++
		}
	}

	for path, storeHash := range store {
		if _, onDisk := disk[path]; !onDisk {
			report.MissingFromDisk = append(report.MissingFromDisk, FileDrift{Path: path, StoreHash: storeHash})
		}
	}

	report.TotalFiles = len(disk)
	if report.TotalFiles < len(store) {
		// A file missing from disk still counts toward the universe of
		// paths either side knows about.
		report.TotalFiles = len(store)
	}

	denom := report.TotalFiles
	if denom < 1 {
		denom = 1
	}
	report.SyncScore = float64(report.UpToDate) / float64(denom)
	report.DriftPercentage = float64(report.TotalDrift()) / float64(denom) * 100

	return report
}
