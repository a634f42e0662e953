package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/client"
	goarchive "github.com/moby/go-archive"
)

// BuildAgentImage builds the agent image from the working directory using
// Dockerfile.agent.
func BuildAgentImage(ctx context.Context, docker *client.Client, imageName string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve build context: %w", err)
	}

	tar, err := goarchive.TarWithOptions(cwd, &goarchive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}

	resp, err := docker.ImageBuild(ctx, tar, build.ImageBuildOptions{
		Tags:       []string{imageName},
		Dockerfile: "Dockerfile.agent",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		slog.Warn("error reading build output", "error", err)
	}

	slog.Info("agent image built", "image", imageName)
	return nil
}
