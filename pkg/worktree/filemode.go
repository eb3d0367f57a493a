package worktree

import (
	"io/fs"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

func modeFromFileInfo(info fs.FileInfo) string {
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		return object.TreeModeSymlink
	case info.Mode()&0o111 != 0:
		return object.TreeModeExecutable
	}
	return object.TreeModeFile
}

func filePermFromMode(mode string) fs.FileMode {
	if mode == object.TreeModeExecutable {
		return 0o755
	}
	return 0o644
}
