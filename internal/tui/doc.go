// Package tui is the terminal front end of the PingSpace client. It renders
// the state published by the room session controller and forwards room
// picks and composer input back to it.
package tui
