package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of agentdesk data (database, config, agent profiles)",
		Long: `Creates a compressed .tar.gz archive containing the SQLite database,
the configuration file and the agent profile YAML files. The backup is
timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			cfgPath := resolveConfigPath()

			if outputPath == "" {
				backupDir := filepath.Join(filepath.Dir(cfgPath), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("agentdesk-backup-%s.tar.gz", ts))
			}

			entries := backupEntries(cfgPath, cfg.Store.DBPath, cfg.AgentsDir)
			if len(entries) == 0 {
				return fmt.Errorf("no files to backup (db: %s, config: %s)", cfg.Store.DBPath, cfgPath)
			}

			if err := createTarGz(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backup created: %s\n", outputPath)
			fmt.Fprintf(out, "Files included: %d\n", len(entries))
			for _, e := range entries {
				size := int64(0)
				if info, err := os.Stat(e.path); err == nil {
					size = info.Size()
				}
				fmt.Fprintf(out, "  - %s (%s)\n", e.name, humanize.IBytes(uint64(size)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <config dir>/backups/agentdesk-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore agentdesk data from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			cfgPath := resolveConfigPath()
			dbPath := cfg.Store.DBPath

			if !force {
				for _, p := range []string{dbPath, cfgPath} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s exists; restore aborted (use --force to overwrite)", p)
					}
				}
			}

			restored, err := extractTarGz(args[0], dbPath, cfgPath, cfg.AgentsDir)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Restore completed from: %s\n", args[0])
			fmt.Fprintf(out, "Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Fprintf(out, "  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data")
	return cmd
}

// archiveEntry maps a file on disk to its name inside the archive.
type archiveEntry struct {
	path string
	name string
}

const agentsPrefix = "agents/"

func backupEntries(cfgPath, dbPath, agentsDir string) []archiveEntry {
	var entries []archiveEntry
	add := func(path, name string) {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			entries = append(entries, archiveEntry{path: path, name: name})
		}
	}

	add(dbPath, "agentdesk.db")
	add(dbPath+"-wal", "agentdesk.db-wal")
	add(dbPath+"-shm", "agentdesk.db-shm")
	add(cfgPath, "config.json")

	if agentsDir != "" {
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, _ := filepath.Glob(filepath.Join(agentsDir, pattern))
			for _, m := range matches {
				add(m, agentsPrefix+filepath.Base(m))
			}
		}
	}
	return entries
}

func createTarGz(outputPath string, entries []archiveEntry) (err error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := outFile.Close(); err == nil {
			err = cerr
		}
	}()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	for _, e := range entries {
		if err := addFileToTar(tarWriter, e); err != nil {
			return fmt.Errorf("add %s: %w", e.path, err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

func addFileToTar(tw *tar.Writer, e archiveEntry) error {
	file, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = e.name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz restores archive members to their configured locations.
// Unknown members are skipped.
func extractTarGz(archivePath, dbPath, cfgPath, agentsDir string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		var targetPath string
		switch name := header.Name; {
		case name == "config.json":
			targetPath = cfgPath
		case name == "agentdesk.db":
			targetPath = dbPath
		case name == "agentdesk.db-wal":
			targetPath = dbPath + "-wal"
		case name == "agentdesk.db-shm":
			targetPath = dbPath + "-shm"
		case strings.HasPrefix(name, agentsPrefix) && agentsDir != "":
			base := filepath.Base(name)
			if base == "." || base == ".." || base == "/" {
				continue
			}
			targetPath = filepath.Join(agentsDir, base)
		default:
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}

		outFile, err := os.Create(targetPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		if err := outFile.Close(); err != nil {
			return nil, err
		}

		restored = append(restored, targetPath)
	}

	return restored, nil
}
