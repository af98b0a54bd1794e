package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
	"github.com/ChamsBouzaiene/dyno/internal/tools/filesystem"
)

// readFiles fans the batch out concurrently and joins the results in input order.
func (e *Executor) readFiles(ctx context.Context, sb sandbox.Sandbox, workingDir string, batch engine.ReadFiles) string {
	if len(batch.Tools) == 0 {
		return "Error: read_files needs at least one read_file or list_files tool"
	}

	results := make([]string, len(batch.Tools))
	var wg sync.WaitGroup
	for i, sub := range batch.Tools {
		wg.Add(1)
		go func(i int, sub engine.Action) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = fmt.Sprintf("Error: %v", r)
				}
			}()
			switch a := sub.(type) {
			case engine.ReadFile:
				results[i] = filesystem.Read(ctx, sb, workingDir, a.FilePath)
			case engine.ListFiles:
				results[i] = filesystem.List(ctx, sb, workingDir, a.DirectoryPath, e.matcher)
			default:
				results[i] = fmt.Sprintf("Error: %s is not allowed inside read_files", sub.Kind())
			}
		}(i, sub)
	}
	wg.Wait()

	var b strings.Builder
	for i, sub := range batch.Tools {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s %s\n%s", i, sub.Kind(), target(sub), results[i])
	}
	return b.String()
}

func target(a engine.Action) string {
	switch v := a.(type) {
	case engine.ReadFile:
		return v.FilePath
	case engine.ListFiles:
		if v.DirectoryPath == "" {
			return "."
		}
		return v.DirectoryPath
	}
	return ""
}
