// Package cli implements the interactive admin console for the lobby
// server: live player/game tables and a graceful shutdown command.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/Cheyans/server/internal/config"
	"github.com/Cheyans/server/internal/events"
	"github.com/Cheyans/server/internal/game"
	"github.com/Cheyans/server/internal/matchmaker"
	"github.com/Cheyans/server/internal/player"
)

// CLI provides the interactive admin console.
type CLI struct {
	cfg     *config.Config
	bus     *events.Bus
	players *player.Registry
	games   *game.Registry
	mm      *matchmaker.Matchmaker
}

// New creates a CLI handler.
func New(cfg *config.Config, bus *events.Bus, players *player.Registry,
	games *game.Registry, mm *matchmaker.Matchmaker) *CLI {
	return &CLI{
		cfg:     cfg,
		bus:     bus,
		players: players,
		games:   games,
		mm:      mm,
	}
}

// Start begins the interactive loop. Blocking; run in its own
// goroutine.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nLobby server CLI ready. Type 'help' for available commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("lobby> ")
		if !scanner.Scan() {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		c.execute(ctx, strings.ToLower(parts[0]))
	}
}

func (c *CLI) execute(ctx context.Context, cmd string) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "p":
		c.printPlayers()
	case "games", "g":
		c.printGames()
	case "quit", "exit", "q":
		fmt.Println("Shutting down lobby server...")
		c.bus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
}

func (c *CLI) printHelp() {
	fmt.Println()
	fmt.Println("  status     Show player/game/queue counts")
	fmt.Println("  players    List logged-in players")
	fmt.Println("  games      List active games")
	fmt.Println("  quit       Shut the server down")
	fmt.Println("  help       Show this help message")
	fmt.Println()
}

func (c *CLI) printStatus() {
	fmt.Printf("\n  Players:      %d\n", c.players.Count())
	fmt.Printf("  Games:        %d\n", c.games.Count())
	fmt.Printf("  Ladder queue: %d\n", c.mm.QueueLen())
	fmt.Printf("  Lobby port:   %d\n", c.cfg.Lobby.Port)
	fmt.Printf("  Game port:    %d\n\n", c.cfg.Lobby.GamePort)
}

func (c *CLI) printPlayers() {
	players := c.players.Snapshot()
	if len(players) == 0 {
		fmt.Println("No players logged in.")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Login", "State", "Game", "Address"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range players {
		gameCol := "-"
		if p.CurrentGameID != 0 {
			gameCol = fmt.Sprintf("%d", p.CurrentGameID)
		}
		tw.Append([]string{
			fmt.Sprintf("%d", p.ID),
			p.Login,
			p.State.String(),
			gameCol,
			p.Session.RemoteAddr(),
		})
	}

	tw.Render()
	fmt.Println()
}

func (c *CLI) printGames() {
	listed := c.games.ListOpenListable()
	if len(listed) == 0 {
		fmt.Println("No open games.")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Title", "Mode", "Map", "Host", "Players"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, info := range listed {
		tw.Append([]string{
			fmt.Sprintf("%v", info["id"]),
			fmt.Sprintf("%v", info["title"]),
			fmt.Sprintf("%v", info["featured_mod"]),
			fmt.Sprintf("%v", info["mapname"]),
			fmt.Sprintf("%v", info["host"]),
			fmt.Sprintf("%v", info["num_players"]),
		})
	}

	tw.Render()
	fmt.Println()
}
