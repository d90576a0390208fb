package cmd

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/amozeshoparvaresheIT/manar-chat/internal/chat"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/config"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/ui"
)

var (
	flagJoinName     string
	flagJoinServer   string
	flagJoinSTUN     string
	flagJoinTURN     string
	flagJoinTURNUser string
	flagJoinTURNPass string
	flagJoinRelay    bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room-code|url>",
	Aliases: []string{"j"},
	Short:   "Join a chat room",
	Long: `Join a two-party encrypted chat room. Both of you enter the same
room code; whoever shows up second completes the pair.

Examples:
  manar join LOVE01
  manar join https://manar.example.com/room/LOVE01 --name Laila
  manar join LOVE01 --relay-chat`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return runChat(room)
	},
}

func runChat(room string) error {
	cfg, err := config.Load(config.Options{
		Domain:     flagJoinServer,
		STUNServer: flagJoinSTUN,
		TURNServer: flagJoinTURN,
		TURNUser:   flagJoinTURNUser,
		TURNPass:   flagJoinTURNPass,
		RelayChat:  flagJoinRelay,
	})
	if err != nil {
		return err
	}

	fmt.Println()
	spinner := ui.NewConnectionSpinner("Connecting to server...")
	spinner.Start()

	session := chat.NewSession(cfg, slog.Default())
	if err := session.Connect(room, flagJoinName); err != nil {
		spinner.Error("Could not reach the server")
		return err
	}
	spinner.Success(fmt.Sprintf("Connected to room %s", ui.BoldStyle.Render(room)))
	defer session.Close()

	model := ui.NewChatModel(session, room, flagJoinName)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("chat screen: %w", err)
	}

	stats := session.Stats()
	fmt.Println()
	ui.RenderSessionSummary(ui.SessionSummary{
		Room:          room,
		Duration:      time.Since(stats.Started),
		TextsSent:     stats.TextsSent,
		TextsReceived: stats.TextsReceived,
		FilesSent:     stats.FilesSent,
		FilesReceived: stats.FilesReceived,
	})
	fmt.Printf("%s Until next time\n", ui.IconBye)

	return nil
}

func parseRoomInput(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("room code cannot be empty")
	}

	if strings.Contains(input, "://") || strings.Contains(input, ".") {
		room, err := extractRoomFromURL(input)
		if err != nil {
			return "", err
		}
		ui.PrintSuccessf("Extracted room code: %s", room)
		return room, nil
	}

	return input, nil
}

func extractRoomFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "room" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("could not extract room code from URL: %s", urlStr)
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagJoinName, "name", "n", "", "Display name shown to your partner")
	joinCmd.Flags().StringVar(&flagJoinServer, "server", "", "Custom relay server domain")
	joinCmd.Flags().StringVarP(&flagJoinSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagJoinTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagJoinTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagJoinTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVar(&flagJoinRelay, "relay-chat", false, "Let encrypted text fall back to the relay before the direct channel opens")
}
