package emulator

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/literals"

	"github.com/dop251/goja"
)

// I/O modes of OpenTextFile.
const (
	forReading   = 1
	forWriting   = 2
	forAppending = 8
)

func baseName(p string) string {
	p = strings.TrimRight(strings.ReplaceAll(p, "/", `\`), `\`)
	if i := strings.LastIndexByte(p, '\\'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func extName(p string) string {
	name := baseName(p)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if strings.HasSuffix(dir, `\`) || strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + `\` + name
}

type valueList []goja.Value

func (l valueList) items() []goja.Value { return l }

// newCollection builds a read-only automation collection.
func (s *Scope) newCollection(class string, items []goja.Value) *Object {
	o := s.newObject(class)
	o.Data = valueList(items)
	o.Prop("Count", len(items))
	o.Prop("length", len(items))
	o.Method("Item", func(call goja.FunctionCall) goja.Value {
		i := argInt(call, 0, 0)
		if i < 0 || i >= int64(len(items)) {
			return goja.Undefined()
		}
		return items[i]
	})
	return o
}

func newFileSystemObject(s *Scope) *Object {
	o := s.newObject("FileSystemObject")

	o.Method("CreateTextFile", func(call goja.FunctionCall) goja.Value {
		return s.openTextStream(argString(call, 0), forWriting, true).Value()
	})
	o.Method("OpenTextFile", func(call goja.FunctionCall) goja.Value {
		return s.openTextStream(argString(call, 0), int(argInt(call, 1, forReading)), argBool(call, 2)).Value()
	})
	o.Method("FileExists", func(call goja.FunctionCall) goja.Value {
		return s.rt.ToValue(s.fs.Exists(argString(call, 0)))
	})
	o.Method("FolderExists", func(call goja.FunctionCall) goja.Value {
		return s.rt.ToValue(s.fs.DirExists(argString(call, 0)))
	})
	o.Method("DriveExists", func(call goja.FunctionCall) goja.Value {
		return s.rt.ToValue(strings.HasPrefix(strings.ToUpper(argString(call, 0)), "C"))
	})
	o.Method("DeleteFile", func(call goja.FunctionCall) goja.Value {
		s.deleteFile(argString(call, 0))
		return goja.Undefined()
	})
	o.Method("DeleteFolder", func(call goja.FunctionCall) goja.Value {
		path := argString(call, 0)
		s.fs.RemoveDir(path)
		s.rec.Record(ioc.CategoryFileDelete, map[string]interface{}{"path": path, "folder": true}, "The script deleted a folder.")
		return goja.Undefined()
	})
	o.Method("CopyFile", func(call goja.FunctionCall) goja.Value {
		s.copyFile(argString(call, 0), argString(call, 1), false)
		return goja.Undefined()
	})
	o.Method("MoveFile", func(call goja.FunctionCall) goja.Value {
		s.copyFile(argString(call, 0), argString(call, 1), true)
		return goja.Undefined()
	})
	o.Method("CopyFolder", func(call goja.FunctionCall) goja.Value {
		s.rec.Record(ioc.CategoryFileCopy, map[string]interface{}{
			"source": argString(call, 0), "destination": argString(call, 1), "folder": true,
		}, "The script copied a folder.")
		return goja.Undefined()
	})
	o.Method("MoveFolder", func(call goja.FunctionCall) goja.Value {
		s.rec.Record(ioc.CategoryFileCopy, map[string]interface{}{
			"source": argString(call, 0), "destination": argString(call, 1), "folder": true, "move": true,
		}, "The script moved a folder.")
		return goja.Undefined()
	})
	o.Method("CreateFolder", func(call goja.FunctionCall) goja.Value {
		path := argString(call, 0)
		s.fs.MkdirAll(path)
		s.rec.Record(ioc.CategoryFolderCreate, map[string]interface{}{"path": path}, "The script created a folder.")
		return s.newFolder(path).Value()
	})
	o.Method("GetFile", func(call goja.FunctionCall) goja.Value {
		return s.newFile(argString(call, 0)).Value()
	})
	o.Method("GetFolder", func(call goja.FunctionCall) goja.Value {
		return s.newFolder(argString(call, 0)).Value()
	})
	o.Method("GetSpecialFolder", func(call goja.FunctionCall) goja.Value {
		switch argInt(call, 0, 0) {
		case 0:
			return s.newFolder(literals.WINDOWS_DIR).Value()
		case 1:
			return s.newFolder(strings.TrimRight(literals.SYSTEM_DIR, `\`)).Value()
		default:
			return s.newFolder(literals.TEMP_DIR).Value()
		}
	})
	o.Method("GetDrive", func(call goja.FunctionCall) goja.Value {
		return s.newDrive(argString(call, 0)).Value()
	})
	o.Method("GetTempName", func(goja.FunctionCall) goja.Value {
		return s.rt.ToValue(fmt.Sprintf("rad%05X.tmp", rand.Intn(0xFFFFF)))
	})
	o.Method("BuildPath", func(call goja.FunctionCall) goja.Value {
		return s.rt.ToValue(joinPath(argString(call, 0), argString(call, 1)))
	})
	o.Method("GetFileName", func(call goja.FunctionCall) goja.Value {
		return s.rt.ToValue(baseName(argString(call, 0)))
	})
	o.Method("GetBaseName", func(call goja.FunctionCall) goja.Value {
		name := baseName(argString(call, 0))
		if ext := extName(name); ext != "" {
			name = strings.TrimSuffix(name, "."+ext)
		}
		return s.rt.ToValue(name)
	})
	o.Method("GetExtensionName", func(call goja.FunctionCall) goja.Value {
		return s.rt.ToValue(extName(argString(call, 0)))
	})
	o.Method("GetParentFolderName", func(call goja.FunctionCall) goja.Value {
		return s.rt.ToValue(parentDir(argString(call, 0)))
	})
	o.Method("GetAbsolutePathName", func(call goja.FunctionCall) goja.Value {
		path := argString(call, 0)
		if len(path) < 2 || path[1] != ':' {
			path = joinPath(literals.SCRIPT_DIR, path)
		}
		return s.rt.ToValue(path)
	})
	o.Method("GetDriveName", func(call goja.FunctionCall) goja.Value {
		path := argString(call, 0)
		if len(path) >= 2 && path[1] == ':' {
			return s.rt.ToValue(path[:2])
		}
		return s.rt.ToValue("")
	})
	o.Method("GetFileVersion", func(goja.FunctionCall) goja.Value { return s.rt.ToValue("") })
	o.Accessor("Drives", func() goja.Value {
		return s.newCollection("Drives", []goja.Value{s.newDrive("C:").Value()}).Value()
	}, nil)
	return o
}

func (s *Scope) deleteFile(path string) {
	existed := s.fs.Remove(path)
	s.rec.Record(ioc.CategoryFileDelete, map[string]interface{}{
		"path":    path,
		"existed": existed,
	}, "The script deleted a file.")
}

func (s *Scope) copyFile(src, dst string, move bool) {
	if strings.HasSuffix(dst, `\`) || s.fs.DirExists(dst) {
		dst = joinPath(dst, baseName(src))
	}
	existed := s.fs.Copy(src, dst)
	if move && existed {
		s.fs.Remove(src)
	}
	desc := "The script copied a file."
	if move {
		desc = "The script moved a file."
	}
	s.rec.Record(ioc.CategoryFileCopy, map[string]interface{}{
		"source":      src,
		"destination": dst,
		"move":        move,
		"existed":     existed,
	}, desc)
}

func (s *Scope) newFile(path string) *Object {
	o := s.newObject("File")
	o.Prop("Path", path)
	o.Prop("Name", baseName(path))
	o.Prop("ShortPath", path)
	o.Prop("Type", "Application")
	o.Prop("Attributes", 32)
	o.Accessor("Size", func() goja.Value {
		data, _ := s.fs.Read(path)
		return s.rt.ToValue(len(data))
	}, nil)
	o.Accessor("ParentFolder", func() goja.Value { return s.newFolder(parentDir(path)).Value() }, nil)
	o.Method("toString", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(path) })
	o.Method("Delete", func(goja.FunctionCall) goja.Value {
		s.deleteFile(path)
		return goja.Undefined()
	})
	o.Method("Copy", func(call goja.FunctionCall) goja.Value {
		s.copyFile(path, argString(call, 0), false)
		return goja.Undefined()
	})
	o.Method("Move", func(call goja.FunctionCall) goja.Value {
		s.copyFile(path, argString(call, 0), true)
		return goja.Undefined()
	})
	o.Method("OpenAsTextStream", func(call goja.FunctionCall) goja.Value {
		return s.openTextStream(path, int(argInt(call, 0, forReading)), false).Value()
	})
	return o
}

func (s *Scope) newFolder(path string) *Object {
	o := s.newObject("Folder")
	o.Prop("Path", path)
	o.Prop("Name", baseName(path))
	o.Prop("ShortPath", path)
	o.Prop("Attributes", 16)
	o.Prop("IsRootFolder", len(strings.TrimRight(path, `\`)) <= 2)
	o.Method("toString", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(path) })
	o.Accessor("Files", func() goja.Value {
		var files []goja.Value
		for _, f := range s.fs.List(path) {
			files = append(files, s.newFile(f).Value())
		}
		return s.newCollection("Files", files).Value()
	}, nil)
	o.Accessor("SubFolders", func() goja.Value {
		return s.newCollection("Folders", nil).Value()
	}, nil)
	o.Accessor("ParentFolder", func() goja.Value { return s.newFolder(parentDir(path)).Value() }, nil)
	o.Method("CreateTextFile", func(call goja.FunctionCall) goja.Value {
		return s.openTextStream(joinPath(path, argString(call, 0)), forWriting, true).Value()
	})
	o.Method("Delete", func(goja.FunctionCall) goja.Value {
		s.fs.RemoveDir(path)
		s.rec.Record(ioc.CategoryFileDelete, map[string]interface{}{"path": path, "folder": true}, "The script deleted a folder.")
		return goja.Undefined()
	})
	return o
}

func (s *Scope) newDrive(letter string) *Object {
	if letter == "" {
		letter = "C:"
	}
	o := s.newObject("Drive")
	o.Prop("DriveLetter", strings.TrimSuffix(strings.ToUpper(letter[:1]), ":"))
	o.Prop("Path", strings.ToUpper(letter[:1])+":")
	o.Prop("DriveType", 2)
	o.Prop("FileSystem", "NTFS")
	o.Prop("IsReady", true)
	o.Prop("SerialNumber", 1537319832)
	o.Prop("VolumeName", "")
	o.Prop("TotalSize", int64(255)<<30)
	o.Prop("FreeSpace", int64(118)<<30)
	o.Prop("AvailableSpace", int64(118)<<30)
	return o
}

// textStream is a TextStream over a virtual file. Writes land in the
// virtual filesystem immediately; the file is reported when the stream is
// closed, or when the scope closes.
type textStream struct {
	s       *Scope
	path    string
	mode    int
	data    []byte
	pos     int
	written bool
	closed  bool
}

func (s *Scope) openTextStream(path string, mode int, create bool) *Object {
	ts := &textStream{s: s, path: path, mode: mode}
	switch mode {
	case forWriting:
		s.fs.Write(path, nil)
		s.streams[ts] = struct{}{}
	case forAppending:
		if !s.fs.Exists(path) {
			s.fs.Write(path, nil)
		}
		s.streams[ts] = struct{}{}
	default:
		data, ok := s.fs.Read(path)
		if !ok && create {
			s.fs.Write(path, nil)
		}
		ts.data = data
		s.rec.Record(ioc.CategoryFileRead, map[string]interface{}{
			"path":    path,
			"existed": ok,
		}, "The script opened a file for reading.")
	}

	o := s.newObject("TextStream")
	o.Data = ts
	write := func(text string) {
		if ts.closed || ts.mode == forReading {
			return
		}
		s.fs.Append(path, stringBytes(text))
		ts.written = true
	}
	o.Method("Write", func(call goja.FunctionCall) goja.Value {
		write(argString(call, 0))
		return goja.Undefined()
	})
	o.Method("WriteLine", func(call goja.FunctionCall) goja.Value {
		write(argString(call, 0) + "\r\n")
		return goja.Undefined()
	})
	o.Method("WriteBlankLines", func(call goja.FunctionCall) goja.Value {
		write(strings.Repeat("\r\n", int(argInt(call, 0, 1))))
		return goja.Undefined()
	})
	o.Method("Read", func(call goja.FunctionCall) goja.Value {
		n := int(argInt(call, 0, 1))
		return s.rt.ToValue(ts.read(n))
	})
	o.Method("ReadAll", func(goja.FunctionCall) goja.Value {
		return s.rt.ToValue(ts.read(len(ts.data)))
	})
	o.Method("ReadLine", func(goja.FunctionCall) goja.Value {
		rest := ts.data[ts.pos:]
		line := rest
		if i := strings.IndexByte(string(rest), '\n'); i >= 0 {
			line = rest[:i]
			ts.pos += i + 1
		} else {
			ts.pos = len(ts.data)
		}
		return s.rt.ToValue(strings.TrimSuffix(latin1String(line), "\r"))
	})
	o.Method("Skip", func(call goja.FunctionCall) goja.Value {
		ts.read(int(argInt(call, 0, 0)))
		return goja.Undefined()
	})
	o.Method("SkipLine", func(goja.FunctionCall) goja.Value {
		rest := string(ts.data[ts.pos:])
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			ts.pos += i + 1
		} else {
			ts.pos = len(ts.data)
		}
		return goja.Undefined()
	})
	o.Accessor("AtEndOfStream", func() goja.Value { return s.rt.ToValue(ts.pos >= len(ts.data)) }, nil)
	o.Accessor("AtEndOfLine", func() goja.Value {
		return s.rt.ToValue(ts.pos >= len(ts.data) || ts.data[ts.pos] == '\r' || ts.data[ts.pos] == '\n')
	}, nil)
	o.Method("Close", func(goja.FunctionCall) goja.Value {
		ts.close()
		return goja.Undefined()
	})
	return o
}

func (ts *textStream) read(n int) string {
	if n < 0 {
		n = 0
	}
	end := ts.pos + n
	if end > len(ts.data) {
		end = len(ts.data)
	}
	out := latin1String(ts.data[ts.pos:end])
	ts.pos = end
	return out
}

func (ts *textStream) close() {
	if ts.closed {
		return
	}
	ts.closed = true
	delete(ts.s.streams, ts)
	if !ts.written {
		return
	}
	data, _ := ts.s.fs.Read(ts.path)
	res := ts.s.rec.RecordFile(ts.path, data)
	ts.s.rec.Record(ioc.CategoryFileWrite, map[string]interface{}{
		"path":   ts.path,
		"size":   len(data),
		"sha256": res.SHA256,
		"type":   res.MIMEType,
		"origin": "TextStream",
	}, "The script wrote a file.")
}
