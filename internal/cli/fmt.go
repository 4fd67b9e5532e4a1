package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	fmtCheck bool
	fmtWrite bool
)

var fmtCmd = &cobra.Command{
	Use:   "fmt [paths...]",
	Short: "Format PKL configuration files",
	Long: `Formats .pkl files to a canonical style.

By default, formats all .pkl files in the current directory.
Use --check to verify formatting without making changes.

Formatting rules:
  - Trailing newline
  - Trim trailing whitespace from lines
  - At most one consecutive blank line`,
	RunE: runFmt,
}

func init() {
	fmtCmd.Flags().BoolVar(&fmtCheck, "check", false, "Check formatting without making changes (exit 1 if not formatted)")
	fmtCmd.Flags().BoolVar(&fmtWrite, "write", true, "Write formatted output back to files")
}

func runFmt(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		args = []string{"."}
	}

	files, err := collectPklFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No .pkl files found.")
		return nil
	}

	changed := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		formatted := formatPkl(string(data))
		if formatted == string(data) {
			continue
		}
		changed++

		if fmtCheck {
			fmt.Printf("%s: not formatted\n", file)
			continue
		}
		if fmtWrite {
			if err := os.WriteFile(file, []byte(formatted), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", file, err)
			}
			fmt.Printf("%s: formatted\n", file)
		}
	}

	switch {
	case fmtCheck && changed > 0:
		return fmt.Errorf("%d file(s) not formatted", changed)
	case changed == 0:
		fmt.Printf("All %d file(s) are properly formatted.\n", len(files))
	case !fmtCheck:
		fmt.Printf("Formatted %d file(s).\n", changed)
	}
	return nil
}

// collectPklFiles resolves the command arguments into the set of files
// to format. A file argument is taken as-is, a directory is walked.
func collectPklFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := findPklFiles(p)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}

func findPklFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".pkl") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// formatPkl normalizes trailing whitespace, collapses runs of blank
// lines, and guarantees a final newline. It is idempotent.
func formatPkl(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}

	out := strings.Join(lines, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}
