package emulator

import (
	"sort"
	"strings"
	"sync"

	"github.com/arturoeanton/wshbox/literals"
)

type vfile struct {
	path string
	data []byte
}

// VirtualFS is the in-memory filesystem behind the emulated file objects.
// Paths are Windows style and case-insensitive.
type VirtualFS struct {
	mu    sync.RWMutex
	files map[string]*vfile
	dirs  map[string]string
}

// NewVirtualFS returns a filesystem holding only the usual system folders.
func NewVirtualFS() *VirtualFS {
	fs := &VirtualFS{
		files: make(map[string]*vfile),
		dirs:  make(map[string]string),
	}
	for _, dir := range []string{
		`C:\`,
		literals.WINDOWS_DIR,
		literals.SYSTEM_DIR,
		literals.PROGRAM_FILES,
		literals.USER_PROFILE,
		literals.APPDATA,
		literals.LOCALAPPDATA,
		literals.TEMP_DIR,
		literals.PUBLIC_DIR,
		literals.SCRIPT_DIR,
		`C:\ProgramData`,
	} {
		fs.MkdirAll(dir)
	}
	return fs
}

func normPath(p string) string {
	p = strings.ReplaceAll(p, "/", `\`)
	p = strings.TrimRight(p, `\`)
	if len(p) == 2 && p[1] == ':' {
		p += `\`
	}
	return strings.ToLower(p)
}

func dirPrefix(key string) string {
	if strings.HasSuffix(key, `\`) {
		return key
	}
	return key + `\`
}

func parentDir(p string) string {
	p = strings.ReplaceAll(p, "/", `\`)
	p = strings.TrimRight(p, `\`)
	i := strings.LastIndexByte(p, '\\')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Write replaces the content of path, creating its folders.
func (fs *VirtualFS) Write(path string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mkdirAllLocked(parentDir(path))
	fs.files[normPath(path)] = &vfile{path: path, data: append([]byte(nil), data...)}
}

// Append adds data at the end of path, creating it when missing.
func (fs *VirtualFS) Append(path string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	key := normPath(path)
	if f, ok := fs.files[key]; ok {
		f.data = append(f.data, data...)
		return
	}
	fs.mkdirAllLocked(parentDir(path))
	fs.files[key] = &vfile{path: path, data: append([]byte(nil), data...)}
}

// Read returns a copy of the content of path.
func (fs *VirtualFS) Read(path string) ([]byte, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	f, ok := fs.files[normPath(path)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.data...), true
}

// Exists reports whether path is a file.
func (fs *VirtualFS) Exists(path string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.files[normPath(path)]
	return ok
}

// DirExists reports whether path is a folder.
func (fs *VirtualFS) DirExists(path string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.dirs[normPath(path)]
	return ok
}

// Remove deletes a file. It reports whether the file existed.
func (fs *VirtualFS) Remove(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	key := normPath(path)
	_, ok := fs.files[key]
	delete(fs.files, key)
	return ok
}

// RemoveDir deletes a folder and everything below it.
func (fs *VirtualFS) RemoveDir(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	key := normPath(path)
	_, ok := fs.dirs[key]
	prefix := dirPrefix(key)
	for k := range fs.files {
		if strings.HasPrefix(k, prefix) {
			delete(fs.files, k)
		}
	}
	for k := range fs.dirs {
		if k == key || strings.HasPrefix(k, prefix) {
			delete(fs.dirs, k)
		}
	}
	return ok
}

// Copy duplicates src to dst. It reports whether src existed.
func (fs *VirtualFS) Copy(src, dst string) bool {
	data, ok := fs.Read(src)
	if !ok {
		return false
	}
	fs.Write(dst, data)
	return true
}

// MkdirAll creates path and its parents.
func (fs *VirtualFS) MkdirAll(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mkdirAllLocked(path)
}

func (fs *VirtualFS) mkdirAllLocked(path string) {
	for path != "" {
		key := normPath(path)
		if _, ok := fs.dirs[key]; ok {
			return
		}
		fs.dirs[key] = strings.TrimRight(path, `\/`)
		path = parentDir(path)
	}
}

// Files lists the stored files sorted by path.
func (fs *VirtualFS) Files() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]string, 0, len(fs.files))
	for _, f := range fs.files {
		out = append(out, f.path)
	}
	sort.Strings(out)
	return out
}

// List returns the files directly inside dir.
func (fs *VirtualFS) List(dir string) []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	prefix := dirPrefix(normPath(dir))
	var out []string
	for k, f := range fs.files {
		if strings.HasPrefix(k, prefix) && !strings.Contains(k[len(prefix):], `\`) {
			out = append(out, f.path)
		}
	}
	sort.Strings(out)
	return out
}
