package classifier

// Group is a named category of whitelisted commands.
type Group struct {
	Name     string
	Commands []string
}

// readOnlyGroups is the build-time whitelist. Entries are exact first-token
// command names.
var readOnlyGroups = []Group{
	{"File viewing", []string{"ls", "cat", "head", "tail", "less", "more", "grep", "rg", "find", "fd", "tree", "bat", "eza", "exa", "locate"}},
	{"Path operations", []string{"cd", "pwd", "readlink", "realpath", "basename", "dirname"}},
	{"System info", []string{"whoami", "id", "groups", "which", "whereis", "type", "hostname", "uname", "date", "uptime"}},
	{"Display", []string{"echo", "printf"}},
	{"Process monitoring", []string{"ps", "top", "htop", "btop", "lsof"}},
	{"Disk/filesystem", []string{"df", "du", "lsblk", "blkid", "stat", "file"}},
	{"Memory/performance", []string{"free", "vmstat", "iostat", "iotop", "lsmem", "lshw", "lscpu"}},
	{"Network monitoring", []string{"netstat", "ss", "ping", "traceroute", "nslookup", "dig", "host", "ifconfig"}},
	{"Text processing", []string{"wc", "sort", "uniq", "cut", "paste", "tr", "column"}},
	{"Comparison", []string{"diff", "cmp", "comm"}},
	{"Checksums", []string{"md5sum", "sha1sum", "sha256sum", "sha512sum"}},
	{"Environment", []string{"env", "printenv", "getent", "getconf"}},
	{"Binary viewers", []string{"xxd", "hexdump", "od", "strings"}},
	{"Compressed viewers", []string{"zcat", "bzcat", "xzcat", "gunzip", "bunzip2", "unxz"}},
	{"Data parsers", []string{"jq", "yq", "xmllint"}},
	{"Logs", []string{"journalctl"}},
	{"Hardware", []string{"lsmod", "modinfo", "lspci", "lsusb"}},
	{"Shell", []string{"history", "alias"}},
	{"Fonts", []string{"fc-list", "fc-match"}},
	{"Test", []string{"test", "true", "false"}},
}

var defaultClassifier = newFromGroups(readOnlyGroups)

// Default returns the classifier built from the static whitelist. It is
// immutable and safe to share.
func Default() *Classifier {
	return defaultClassifier
}
