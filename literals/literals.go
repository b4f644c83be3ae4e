package literals

var (
	HOST_NAME         = "Windows Script Host"
	HOST_VERSION      = "5.8"
	HOST_BUILDVERSION = 1234
	DEFAULT_ENGINE    = "wscript.exe"
	SYSTEM_DIR        = `C:\WINDOWS\system32\`
	WINDOWS_DIR       = `C:\WINDOWS`
	SCRIPT_DIR        = `C:\TestFolder\`
	SCRIPT_NAME       = "CURRENT_SCRIPT_IN_FAKED_DIR.js"
	SCRIPT_FULLNAME   = `C:\Users\Sysop12\AppData\Roaming\Microsoft\Templates\CURRENT_SCRIPT_IN_FAKED_DIR.js`

	SCRIPT_ENGINE       = "JScript"
	SCRIPT_ENGINE_MAJOR = 5
	SCRIPT_ENGINE_MINOR = 8
	SCRIPT_ENGINE_BUILD = 16384

	USER_NAME     = "Sysop12"
	COMPUTER_NAME = "USER-PC"
	USER_DOMAIN   = "USER-PC"
	USER_PROFILE  = `C:\Users\Sysop12`
	APPDATA       = `C:\Users\Sysop12\AppData\Roaming`
	LOCALAPPDATA  = `C:\Users\Sysop12\AppData\Local`
	TEMP_DIR      = `C:\Users\Sysop12\AppData\Local\Temp`
	PROGRAM_FILES = `C:\Program Files`
	PUBLIC_DIR    = `C:\Users\Public`

	LOCATION_URL = "http://mylegitdomain.com:2112/and/i/have/a/path.php"
	REFERRER     = "https://bing.com/"
	USER_AGENT   = "Mozilla/4.0 (compatible; MSIE 7.0; Windows NT 6.2; WOW64; Trident/6.0; .NET4.0E; .NET4.0C; .NET CLR 3.5.30729; .NET CLR 2.0.50727; .NET CLR 3.0.30729; Tablet PC 2.0; InfoPath.3)"

	FAKE_PID = 4132
)
