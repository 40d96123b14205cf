package cogs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/brensch/teamassistant/cog"
	"github.com/brensch/teamassistant/discord"
	"github.com/brensch/teamassistant/sheets"
)

// Discord rejects messages longer than this.
const maxMessageLength = 2000

const digestTimeout = 30 * time.Second

// Sheet reads ranges of the team spreadsheet. With the digest_cron and
// digest_range options it also posts the range on a schedule.
type Sheet struct {
	reader sheets.ValuesReader
}

type sheetRequest struct {
	Range string `arg:"range" discord:"description:A1 range such as Roster!A1:C10"`
}

func (s *Sheet) Name() string { return "sheet" }

func (s *Sheet) Setup(_ context.Context, c *cog.Context) error {
	if c.Sheets == nil {
		return fmt.Errorf("no spreadsheet client configured")
	}
	s.reader = c.Sheets

	cronExpr, err := c.StringOption("digest_cron")
	if err != nil {
		return err
	}
	digestRange, err := c.StringOption("digest_range")
	if err != nil {
		return err
	}
	if (cronExpr == "") != (digestRange == "") {
		return fmt.Errorf("digest_cron and digest_range must be set together")
	}

	if err := c.Host.AddCommand(discord.NewCommand("sheet", "Show a range of the team spreadsheet", s.handle)); err != nil {
		return err
	}
	if cronExpr == "" {
		return nil
	}

	c.Logger.Info("scheduling sheet digest", "cron", cronExpr, "range", digestRange)
	return c.Host.AddSchedule(discord.NewSchedule("sheet-digest", cronExpr, func() (*discordgo.MessageEmbed, error) {
		return s.digest(digestRange)
	}))
}

func (s *Sheet) handle(ctx context.Context, req sheetRequest) (*discordgo.MessageSend, error) {
	rows, err := s.reader.Values(ctx, req.Range)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return discord.TextReply(fmt.Sprintf("No values in %s", req.Range)), nil
	}
	return discord.TextReply(renderTable(rows, maxMessageLength)), nil
}

func (s *Sheet) digest(readRange string) (*discordgo.MessageEmbed, error) {
	ctx, cancel := context.WithTimeout(context.Background(), digestTimeout)
	defer cancel()

	rows, err := s.reader.Values(ctx, readRange)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	return &discordgo.MessageEmbed{
		Title:       readRange,
		Description: renderTable(rows, 4096),
		Color:       0xC89B3C,
		Timestamp:   time.Now().Format(time.RFC3339),
	}, nil
}

// renderTable lays rows out as an aligned code block no longer than limit.
func renderTable(rows [][]string, limit int) string {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if n := len([]rune(cell)); n > widths[i] {
				widths[i] = n
			}
		}
	}

	const fence = "```"
	const ellipsis = "…\n"
	budget := limit - 2*len(fence) - 2 - len(ellipsis)

	var body strings.Builder
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = cell + strings.Repeat(" ", widths[i]-len([]rune(cell)))
		}
		line := strings.TrimRight(strings.Join(cells, " | "), " ") + "\n"
		if body.Len()+len(line) > budget {
			body.WriteString(ellipsis)
			break
		}
		body.WriteString(line)
	}

	return fence + "\n" + body.String() + fence
}
