package tools

// Built-in tool names.
const (
	ToolReadFile    = "read_file"
	ToolListFiles   = "list_files"
	ToolSearchFiles = "search_files"
	ToolWriteFile   = "write_file"
	ToolEditFile    = "edit_file"
	ToolDeleteFile  = "delete_file"
)

// Output bounds shared by the workspace tools.
const (
	defaultReadLines   = 2000
	maxLineLength      = 2000
	defaultStartOffset = 1
	defaultMaxResults  = 1000
	defaultMaxFileSize = 1 << 20
)
