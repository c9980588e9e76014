package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"jwstascii-lambda-updater/pkg/logger"
)

// createArchive compresses the contents of sourceDir into a ZIP archive at
// outputPath. Entry names are relative to sourceDir, so a file placed at the
// directory root ends up at the archive root.
func createArchive(sourceDir, outputPath string, log *logger.Logger) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	zipFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create ZIP file: %w", err)
	}
	defer zipFile.Close()

	zipWriter := zip.NewWriter(zipFile)

	var files []string

	err = filepath.Walk(sourceDir, func(filePath string, fileInfo os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip the output ZIP file itself
		if filePath == outputPath {
			return nil
		}

		// Skip directories in the ZIP
		if fileInfo.IsDir() {
			return nil
		}

		header, err := zip.FileInfoHeader(fileInfo)
		if err != nil {
			return fmt.Errorf("failed to create file header: %w", err)
		}

		relPath, err := filepath.Rel(sourceDir, filePath)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}

		// Use forward slashes for ZIP entries
		header.Name = strings.ReplaceAll(relPath, "\\", "/")
		header.Method = zip.Deflate

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("failed to create file entry: %w", err)
		}

		file, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer file.Close()

		if _, err := io.Copy(writer, file); err != nil {
			return fmt.Errorf("failed to write file content: %w", err)
		}

		files = append(files, header.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create ZIP: %w", err)
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("failed to finalize ZIP: %w", err)
	}

	if log != nil {
		log.Debug().
			Strs("files", files).
			Msg("Created archive with files")

		if zipInfo, err := os.Stat(outputPath); err == nil {
			log.Debug().
				Int64("size", zipInfo.Size()).
				Msg("Archive size")
		}
	}

	return nil
}

// ArchiveEntries lists the entry names of a ZIP archive in the order they
// appear. Used by the deploy job to sanity-check the workspace archive.
func ArchiveEntries(archivePath string) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer reader.Close()

	names := make([]string, 0, len(reader.File))
	for _, file := range reader.File {
		names = append(names, file.Name)
	}
	return names, nil
}
