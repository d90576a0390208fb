package cmd

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/amozeshoparvaresheIT/manar-chat/internal/ui"
)

// Word pools for memorable room codes. Codes mix one word from three
// different pools, so collisions between couples picking at the same
// moment stay unlikely without any server coordination.
var (
	terms = []string{
		"jaan", "azizam", "delbar", "nafas", "golab", "setareh", "mahtab", "parvaneh",
		"sunbeam", "stardust", "ember", "willow", "meadow", "hazel", "breeze", "glimmer",
	}
	sweets = []string{
		"baklava", "saffron", "halva", "sohan", "gaz", "noghl", "cocoa", "toffee",
		"cinnamon", "peppermint", "cupcake", "biscuit", "muffin", "sprinkle",
	}
	charms = []string{
		"phoenix", "fairy", "sprite", "pixie", "mermaid", "comet", "orbit", "nebula",
		"lantern", "pebble", "cottage", "rocket", "button", "thimble",
	}
)

var suggestCmd = &cobra.Command{
	Use:     "suggest",
	Aliases: []string{"code"},
	Short:   "Suggest a memorable room code",
	Long: `Print a random, memorable room code to share with your partner.
The code is generated locally; nothing is reserved on the server until
one of you joins with it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := suggestRoomCode()
		if err != nil {
			return err
		}
		fmt.Println(ui.BoldStyle.Render(code))
		fmt.Println(ui.MutedStyle.Render("both of you run: manar join " + code))
		return nil
	},
}

// suggestRoomCode builds a word-word-word code from three distinct pools.
func suggestRoomCode() (string, error) {
	pools := [][]string{terms, sweets, charms}
	words := make([]string, len(pools))
	for i, pool := range pools {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool))))
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		words[i] = pool[n.Int64()]
	}
	return words[0] + "-" + words[1] + "-" + words[2], nil
}

func init() {
	rootCmd.AddCommand(suggestCmd)
}
