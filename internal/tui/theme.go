package tui

import "github.com/charmbracelet/lipgloss"

const sidebarWidth = 26

var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	serverStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Bold(true)
	roomStyle    = lipgloss.NewStyle().PaddingLeft(1)
	cursorStyle  = lipgloss.NewStyle().PaddingLeft(1).Foreground(lipgloss.Color("86")).Bold(true)
	activeStyle  = lipgloss.NewStyle().PaddingLeft(1).Foreground(lipgloss.Color("63"))
	ownStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	senderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	sidebarStyle = lipgloss.NewStyle().
			Width(sidebarWidth).
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderForeground(lipgloss.Color("238"))
)
