// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data helpers (prefix:action:payload)
//   - A message builder that is safe for ParseMode="HTML" by default
package tgui
