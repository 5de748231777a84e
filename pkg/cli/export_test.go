package cli

import (
	"context"
	"io"

	"github.com/fatih/color"
	"github.com/m-mizutani/fireconf"
	domainConfig "github.com/secmon-lab/hypomnema/pkg/domain/model/config"
	"github.com/secmon-lab/hypomnema/pkg/usecase"
)

type Answerer = answerer

// RunChatForTest runs the chat loop over in and out without colour
func RunChatForTest(ctx context.Context, conversations *usecase.ConversationUseCase, a Answerer, in io.Reader, out io.Writer, userID string) error {
	color.NoColor = true
	return newChatLoop(conversations, a, in, out).Run(ctx, userID)
}

func GetIndexConfig(prefix string, vectors domainConfig.VectorConfig) *fireconf.Config {
	return getIndexConfig(prefix, vectors)
}
