// Package logging writes structured JSON logs to a size-rotated file under
// ~/.amanembed/logs and reads them back for the logs command.
//
// Serve mode never writes to stdout or stderr: stdout carries the MCP
// protocol stream.
package logging
