// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package builtin provides the standard filesystem toolset: read_file,
// write_file, edit_file, ls, glob and grep. All relative paths resolve
// against the configured workspace directory.
package builtin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kadirpekel/omni/pkg/tool"
	"github.com/kadirpekel/omni/pkg/tool/functiontool"
)

const (
	maxGlobMatches = 500
	maxGrepResults = 100
)

// FileTools returns the full filesystem toolset rooted at workspaceDir.
func FileTools(workspaceDir string) ([]tool.Tool, error) {
	abs, err := filepath.Abs(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}

	var tools []tool.Tool
	for _, build := range []func(string) (tool.Tool, error){
		NewReadFileTool, NewWriteFileTool, NewEditFileTool,
		NewListDirTool, NewGlobTool, NewGrepTool,
	} {
		t, err := build(abs)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func resolve(workspaceDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspaceDir, path)
}

type readFileArgs struct {
	Path   string `json:"path" jsonschema:"required,description=Absolute or relative path to the file"`
	Offset int    `json:"offset,omitempty" jsonschema:"description=Starting line number (1-indexed). Use for large files"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Number of lines to read. Use with offset for large files"`
}

// NewReadFileTool reads files with line numbers, supporting offset/limit
// windows for large files.
func NewReadFileTool(workspaceDir string) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name: "read_file",
		Description: "Read file contents from the filesystem. Output includes line numbers " +
			"in format 'LINE_NUMBER|LINE_CONTENT' (1-indexed). Supports reading partial content " +
			"by specifying line offset and limit for large files.",
	}, func(ctx context.Context, args readFileArgs) (*tool.Result, error) {
		path := resolve(workspaceDir, args.Path)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return tool.Fail(fmt.Sprintf("File not found: %s", args.Path)), nil
			}
			return tool.Fail(err.Error()), nil
		}

		lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
		start := 0
		if args.Offset > 0 {
			start = args.Offset - 1
		}
		end := len(lines)
		if args.Limit > 0 && start+args.Limit < end {
			end = start + args.Limit
		}
		if start > len(lines) {
			start = len(lines)
		}

		var b strings.Builder
		for i := start; i < end; i++ {
			fmt.Fprintf(&b, "%6d|%s", i+1, lines[i])
			if i < end-1 {
				b.WriteString("\n")
			}
		}
		return tool.Ok(b.String()), nil
	})
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Absolute or relative path to the file"`
	Content string `json:"content" jsonschema:"required,description=Complete content to write (will replace existing content)"`
}

// NewWriteFileTool creates or overwrites a file, creating parent
// directories as needed.
func NewWriteFileTool(workspaceDir string) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name: "write_file",
		Description: "Write content to a file. Will overwrite existing files completely. " +
			"For existing files, read first using read_file. " +
			"Prefer editing existing files over creating new ones.",
	}, func(ctx context.Context, args writeFileArgs) (*tool.Result, error) {
		path := resolve(workspaceDir, args.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return tool.Fail(err.Error()), nil
		}
		if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
			return tool.Fail(err.Error()), nil
		}
		return tool.Ok(fmt.Sprintf("Successfully wrote to %s", path)), nil
	})
}

type editFileArgs struct {
	Path       string `json:"path" jsonschema:"required,description=Absolute or relative path to the file"`
	OldStr     string `json:"old_str" jsonschema:"required,description=Exact string to find and replace"`
	NewStr     string `json:"new_str" jsonschema:"required,description=Replacement string"`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema:"description=Replace all occurrences (default: false, requires unique match)"`
}

// NewEditFileTool performs exact string replacement. Ambiguous matches fail
// unless replace_all is set.
func NewEditFileTool(workspaceDir string) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name: "edit_file",
		Description: "Perform exact string replacement in a file. By default, old_str must be unique. " +
			"Set replace_all=true to replace all occurrences. Read the file first before editing.",
	}, func(ctx context.Context, args editFileArgs) (*tool.Result, error) {
		path := resolve(workspaceDir, args.Path)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return tool.Fail(fmt.Sprintf("File not found: %s", args.Path)), nil
			}
			return tool.Fail(err.Error()), nil
		}

		content := string(data)
		count := strings.Count(content, args.OldStr)
		if count == 0 {
			preview := args.OldStr
			if len(preview) > 100 {
				preview = preview[:100]
			}
			return tool.Fail(fmt.Sprintf("Text not found in file: %s...", preview)), nil
		}
		if count > 1 && !args.ReplaceAll {
			return tool.Fail(fmt.Sprintf(
				"Found %d matches. Set replace_all=true to replace all, or provide more context for unique match.", count)), nil
		}

		if err := os.WriteFile(path, []byte(strings.ReplaceAll(content, args.OldStr, args.NewStr)), 0o644); err != nil {
			return tool.Fail(err.Error()), nil
		}

		msg := fmt.Sprintf("Successfully edited %s", path)
		if count > 1 {
			msg += fmt.Sprintf(" (%d replacements)", count)
		}
		return tool.Ok(msg), nil
	})
}

type listDirArgs struct {
	Path      string `json:"path,omitempty" jsonschema:"description=Directory path (default: current workspace)"`
	Recursive bool   `json:"recursive,omitempty" jsonschema:"description=List subdirectories recursively (default: false)"`
}

// NewListDirTool lists directory contents with size and mtime metadata.
func NewListDirTool(workspaceDir string) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "ls",
		Description: "List files and directories with size and modification time.",
	}, func(ctx context.Context, args listDirArgs) (*tool.Result, error) {
		path := args.Path
		if path == "" {
			path = "."
		}
		dir := resolve(workspaceDir, path)

		info, err := os.Stat(dir)
		if err != nil {
			return tool.Fail(fmt.Sprintf("Directory not found: %s", path)), nil
		}
		if !info.IsDir() {
			return tool.Fail(fmt.Sprintf("Not a directory: %s", path)), nil
		}

		var entries []string
		appendEntry := func(rel string, info fs.FileInfo) {
			kind := "f"
			size := formatSize(info.Size())
			if info.IsDir() {
				kind = "d"
				size = "-"
			}
			mtime := info.ModTime().Format("2006-01-02 15:04")
			entries = append(entries, fmt.Sprintf("%s %8s %s %s", kind, size, mtime, rel))
		}

		if args.Recursive {
			err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
				if err != nil || p == dir {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					return nil
				}
				rel, err := filepath.Rel(dir, p)
				if err != nil {
					return nil
				}
				appendEntry(rel, info)
				return nil
			})
		} else {
			var items []fs.DirEntry
			items, err = os.ReadDir(dir)
			for _, d := range items {
				if info, infoErr := d.Info(); infoErr == nil {
					appendEntry(d.Name(), info)
				}
			}
		}
		if err != nil {
			return tool.Fail(err.Error()), nil
		}

		if len(entries) == 0 {
			return tool.Ok("(empty directory)"), nil
		}
		sort.Strings(entries)
		return tool.Ok(strings.Join(entries, "\n")), nil
	})
}

func formatSize(size int64) string {
	value := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if value < 1024 {
			if unit == "B" {
				return fmt.Sprintf("%.0f%s", value, unit)
			}
			return fmt.Sprintf("%.1f%s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1fTB", value)
}

type globArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern to match files"`
	Path    string `json:"path,omitempty" jsonschema:"description=Base directory for search (default: workspace)"`
}

// NewGlobTool finds files matching a glob pattern, ** included.
func NewGlobTool(workspaceDir string) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "glob",
		Description: "Find files matching glob pattern (e.g., **/*.go, src/**/*.md, *.txt)",
	}, func(ctx context.Context, args globArgs) (*tool.Result, error) {
		base := args.Path
		if base == "" {
			base = "."
		}
		dir := resolve(workspaceDir, base)
		if _, err := os.Stat(dir); err != nil {
			return tool.Fail(fmt.Sprintf("Path not found: %s", base)), nil
		}

		matches, err := doublestar.Glob(os.DirFS(dir), args.Pattern)
		if err != nil {
			return tool.Fail(fmt.Sprintf("Invalid pattern: %v", err)), nil
		}
		if len(matches) == 0 {
			return tool.Ok(fmt.Sprintf("No files matching: %s", args.Pattern)), nil
		}

		sort.Strings(matches)
		shown := matches
		if len(shown) > maxGlobMatches {
			shown = shown[:maxGlobMatches]
		}
		output := strings.Join(shown, "\n")
		if len(matches) > maxGlobMatches {
			output += fmt.Sprintf("\n... and %d more", len(matches)-maxGlobMatches)
		}
		return tool.Ok(output), nil
	})
}

type grepArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Search pattern (regex supported)"`
	Path    string `json:"path,omitempty" jsonschema:"description=File or directory to search (default: workspace)"`
	Include string `json:"include,omitempty" jsonschema:"description=File pattern to include (e.g. *.go)"`
	Context int    `json:"context,omitempty" jsonschema:"description=Lines of context around each match (default: 0)"`
}

// NewGrepTool searches file contents with case-insensitive regex.
func NewGrepTool(workspaceDir string) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "grep",
		Description: "Search for pattern in files. Returns matching lines with file path and line number.",
	}, func(ctx context.Context, args grepArgs) (*tool.Result, error) {
		path := args.Path
		if path == "" {
			path = "."
		}
		target := resolve(workspaceDir, path)

		info, err := os.Stat(target)
		if err != nil {
			return tool.Fail(fmt.Sprintf("Path not found: %s", path)), nil
		}

		regex, err := regexp.Compile("(?i)" + args.Pattern)
		if err != nil {
			return tool.Fail(fmt.Sprintf("Invalid regex: %v", err)), nil
		}

		var files []string
		if !info.IsDir() {
			files = []string{target}
		} else {
			pattern := args.Include
			if pattern == "" {
				pattern = "*"
			}
			if !strings.Contains(pattern, "**") {
				pattern = "**/" + pattern
			}
			matches, err := doublestar.Glob(os.DirFS(target), pattern)
			if err != nil {
				return tool.Fail(fmt.Sprintf("Invalid include pattern: %v", err)), nil
			}
			sort.Strings(matches)
			for _, m := range matches {
				files = append(files, filepath.Join(target, m))
			}
		}

		var results []string
		for _, file := range files {
			if len(results) >= maxGrepResults {
				break
			}
			results = grepFile(results, file, workspaceDir, regex, args.Context)
		}

		if len(results) == 0 {
			return tool.Ok(fmt.Sprintf("No matches for: %s", args.Pattern)), nil
		}

		sep := "\n"
		if args.Context > 0 {
			sep = "\n\n"
		}
		output := strings.Join(results, sep)
		if len(results) >= maxGrepResults {
			output += fmt.Sprintf("\n\n... (limited to %d results)", maxGrepResults)
		}
		return tool.Ok(output), nil
	})
}

func grepFile(results []string, file, workspaceDir string, regex *regexp.Regexp, contextLines int) []string {
	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		return results
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return results
	}

	rel := file
	if r, err := filepath.Rel(workspaceDir, file); err == nil && !strings.HasPrefix(r, "..") {
		rel = r
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if len(results) >= maxGrepResults {
			break
		}
		if !regex.MatchString(line) {
			continue
		}
		if contextLines > 0 {
			start := max(0, i-contextLines)
			end := min(len(lines), i+contextLines+1)
			var ctx []string
			for j := start; j < end; j++ {
				prefix := " "
				if j == i {
					prefix = ">"
				}
				ctx = append(ctx, fmt.Sprintf("%s %4d| %s", prefix, j+1, lines[j]))
			}
			results = append(results, fmt.Sprintf("%s:\n%s", rel, strings.Join(ctx, "\n")))
		} else {
			results = append(results, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
		}
	}
	return results
}
