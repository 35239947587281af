package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/output"
)

var allFormats = []output.Format{output.FormatTable, output.FormatJSON, output.FormatMarkdown}

// outputTarget is where a command writes its rendered result: stdout, the
// --out file, or <out-dir>/<name>.<ext>.
type outputTarget struct {
	io.Writer
	format output.Format
	path   string
	closer io.Closer
}

func (t *outputTarget) Formatter() output.Formatter { return output.NewFormatter(t.format) }

// Emit writes one rendered block followed by a newline.
func (t *outputTarget) Emit(rendered string) error {
	_, err := fmt.Fprintln(t, rendered)
	return err
}

func (t *outputTarget) IsFile() bool { return t.closer != nil }

func (t *outputTarget) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// addOutputFlags registers --output-format, --out and --out-dir. The first
// format is the default; none means all formats.
func addOutputFlags(cmd *cobra.Command, formats ...output.Format) {
	if len(formats) == 0 {
		formats = allFormats
	}
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	cmd.Flags().String("output-format", names[0], "output format: "+strings.Join(names, "|"))
	cmd.Flags().String("out", "", "write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "write output to <dir>/<name>.<ext>")
	cmd.MarkFlagsMutuallyExclusive("out", "out-dir")
}

// openOutput resolves the output flags. Flag problems wrap
// core.ErrInvalidArgument so they exit with the usage code.
func openOutput(cmd *cobra.Command, name string, allowed ...output.Format) (*outputTarget, error) {
	if len(allowed) == 0 {
		allowed = allFormats
	}
	raw, _ := cmd.Flags().GetString("output-format")
	format, err := output.ParseFormat(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	if !slices.Contains(allowed, format) {
		return nil, fmt.Errorf("%w: output format %q not supported here", core.ErrInvalidArgument, format)
	}

	outPath, _ := cmd.Flags().GetString("out")
	outDir, _ := cmd.Flags().GetString("out-dir")
	outPath, outDir = strings.TrimSpace(outPath), strings.TrimSpace(outDir)
	if outPath != "" && outDir != "" {
		return nil, fmt.Errorf("%w: --out and --out-dir are mutually exclusive", core.ErrInvalidArgument)
	}
	if outDir != "" {
		outPath = filepath.Join(outDir, sanitizeFilename(name)+"."+outputExtension(format))
	}
	if outPath == "" || outPath == "-" {
		return &outputTarget{Writer: cmd.OutOrStdout(), format: format, path: "-"}, nil
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(outPath)
	if err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(outPath); err == nil {
		outPath = abs
	}
	return &outputTarget{Writer: file, format: format, path: outPath, closer: file}, nil
}

func outputExtension(format output.Format) string {
	switch format {
	case output.FormatJSON:
		return "json"
	case output.FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

var nonFilename = regexp.MustCompile(`[^a-z0-9._-]+`)

func sanitizeFilename(value string) string {
	clean := nonFilename.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	clean = strings.Trim(clean, "-.")
	if clean == "" {
		return "output"
	}
	return clean
}
