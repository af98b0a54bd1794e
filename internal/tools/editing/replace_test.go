package editing

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

func TestReplace(t *testing.T) {
	const screen = "export default function Home() {\n  return <Text>Hello</Text>\n}\n"

	tests := []struct {
		name       string
		content    string
		oldString  string
		newString  string
		replaceAll bool
		want       string
		wantCount  int
		wantErr    string
	}{
		{
			name:      "single occurrence",
			content:   screen,
			oldString: "Hello",
			newString: "Welcome",
			want:      strings.Replace(screen, "Hello", "Welcome", 1),
			wantCount: 1,
		},
		{
			name:      "not found",
			content:   screen,
			oldString: "Goodbye",
			newString: "x",
			wantErr:   "not found",
		},
		{
			name:      "whitespace hint",
			content:   screen,
			oldString: "return    <Text>Hello</Text>",
			newString: "x",
			wantErr:   "Whitespace mismatch",
		},
		{
			name:      "ambiguous",
			content:   "a\na\n",
			oldString: "a",
			newString: "b",
			wantErr:   "appears 2 times",
		},
		{
			name:       "replace all",
			content:    "a\na\n",
			oldString:  "a",
			newString:  "b",
			replaceAll: true,
			want:       "b\nb\n",
			wantCount:  2,
		},
		{
			name:      "identical",
			content:   screen,
			oldString: "Hello",
			newString: "Hello",
			wantErr:   "identical",
		},
		{
			name:      "empty search",
			content:   screen,
			oldString: "",
			newString: "x",
			wantErr:   "must not be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, count, err := Replace(tt.content, tt.oldString, tt.newString, tt.replaceAll)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Replace() error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Replace() error = %v", err)
			}
			if got != tt.want || count != tt.wantCount {
				t.Errorf("Replace() = (%q, %d), want (%q, %d)", got, count, tt.want, tt.wantCount)
			}
		})
	}
}

func TestEdit(t *testing.T) {
	root := t.TempDir()
	sb, err := sandbox.NewHostSandbox("test", root, sandbox.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "app"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "app/index.tsx"), []byte("<Text>Hello</Text>"), 0644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	text, content, ok := Edit(ctx, sb, "", "app/index.tsx", "Hello", "Welcome", false)
	if !ok {
		t.Fatalf("Edit() failed: %s", text)
	}
	if content != "<Text>Welcome</Text>" {
		t.Errorf("content = %q", content)
	}
	onDisk, _ := os.ReadFile(filepath.Join(root, "app/index.tsx"))
	if string(onDisk) != content {
		t.Errorf("file on disk = %q", onDisk)
	}

	text, _, ok = Edit(ctx, sb, "", "app/missing.tsx", "a", "b", false)
	if ok || !strings.Contains(text, "does not exist") {
		t.Errorf("Edit() missing file = %q, %v", text, ok)
	}

	// A failed match leaves the file untouched.
	text, _, ok = Edit(ctx, sb, "", "app/index.tsx", "Hello", "Hi", false)
	if ok || !strings.Contains(text, "not found") {
		t.Errorf("Edit() = %q, %v", text, ok)
	}
	onDisk, _ = os.ReadFile(filepath.Join(root, "app/index.tsx"))
	if string(onDisk) != "<Text>Welcome</Text>" {
		t.Errorf("file changed after failed edit: %q", onDisk)
	}
}
