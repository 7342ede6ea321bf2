// Package logx configures upwatch's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller), or raw JSON
//   - File output JSON-structured
//   - An optional Telegram sink for operators (min-level + rate limiting)
package logx
