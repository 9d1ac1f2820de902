package provider

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/cafedeploy/internal/core/deployment"
	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/shell/command"
)

// =============================================================================
// Netlify CLI
// =============================================================================

// NetlifyCLIDeployer deploys through the Netlify CLI.
type NetlifyCLIDeployer struct {
	cliDeployer
}

// NewNetlifyCLIDeployer creates a Netlify CLI deployer.
func NewNetlifyCLIDeployer(runner command.Runner, timeout time.Duration, logger *slog.Logger) *NetlifyCLIDeployer {
	return &NetlifyCLIDeployer{cliDeployer{
		runner:  runner,
		timeout: timeout,
		logger:  logger.With("provider", "netlify"),
	}}
}

// Platform implements Deployer.
func (d *NetlifyCLIDeployer) Platform() domain.HostingPlatform {
	return domain.PlatformNetlify
}

// Deploy runs `netlify deploy` publishing the build output.
func (d *NetlifyCLIDeployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	rec := recorderOf(req)
	rec.Log("deploying to Netlify")
	rec.Progress(10)

	res, err := d.run(ctx, req, "netlify", deployment.NetlifyArgs(req.Config, req.OutputDir), nil)
	if err != nil {
		return nil, err
	}
	rec.Progress(90)

	d.logger.Info("netlify deploy finished", "duration", res.Duration)
	return resolve(req, res.Stdout, d.logger), nil
}

// =============================================================================
// Netlify API
// =============================================================================

// DefaultNetlifyAPIBaseURL is the public Netlify API.
const DefaultNetlifyAPIBaseURL = "https://api.netlify.com"

// NetlifyAPIDeployer uploads a zipped build output to the Netlify deploys API.
type NetlifyAPIDeployer struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// NewNetlifyAPIDeployer creates a Netlify API deployer. An empty baseURL
// means DefaultNetlifyAPIBaseURL.
func NewNetlifyAPIDeployer(client *http.Client, baseURL string, timeout time.Duration, logger *slog.Logger) *NetlifyAPIDeployer {
	if baseURL == "" {
		baseURL = DefaultNetlifyAPIBaseURL
	}
	return &NetlifyAPIDeployer{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger.With("provider", "netlify_api"),
	}
}

// Platform implements Deployer.
func (d *NetlifyAPIDeployer) Platform() domain.HostingPlatform {
	return domain.PlatformNetlify
}

// netlifyDeploy is the part of the deploy resource we read.
type netlifyDeploy struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	ErrorMessage string `json:"error_message"`
}

// Deploy zips req.OutputDir and POSTs it to /api/v1/sites/{site}/deploys.
func (d *NetlifyAPIDeployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	rec := recorderOf(req)
	settings := req.Config.Netlify

	rec.Logf("packaging %s", req.OutputDir)
	body, files, err := zipDir(req.OutputDir)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindDeployFailed, "deploy", domain.StepDeploy,
			fmt.Sprintf("package build output: %v", err), err)
	}
	rec.Logf("uploading %d file(s), %s", files, deployment.FormatBytes(int64(body.Len())))
	rec.Progress(30)

	endpoint := fmt.Sprintf("%s/api/v1/sites/%s/deploys", d.baseURL, url.PathEscape(settings.SiteID))
	if settings.Draft {
		endpoint += "?draft=true"
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindDeployFailed, "deploy", domain.StepDeploy, err.Error(), err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+settings.Token)
	httpReq.Header.Set("Content-Type", "application/zip")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, d.requestError(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, d.requestError(ctx, reqCtx, err)
	}
	output := string(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rec.Log(firstLine(output))
		return nil, domain.NewPipelineError(domain.KindDeployFailed, "deploy", domain.StepDeploy,
			fmt.Sprintf("netlify api returned %d", resp.StatusCode), nil)
	}

	var created netlifyDeploy
	if err := json.Unmarshal(raw, &created); err == nil && created.State == "error" {
		return nil, domain.NewPipelineError(domain.KindDeployFailed, "deploy", domain.StepDeploy,
			"netlify reported deploy error: "+created.ErrorMessage, nil)
	}
	rec.Progress(90)
	d.logger.Info("netlify api deploy created", "deploy_id", created.ID, "state", created.State)

	result := resolve(req, output, d.logger)
	result.DeployID = created.ID
	return result, nil
}

func (d *NetlifyAPIDeployer) requestError(parent, reqCtx context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return domain.NewPipelineError(domain.KindCancelled, "deploy", domain.StepDeploy, "upload cancelled", parent.Err())
	case reqCtx.Err() != nil:
		return domain.NewPipelineError(domain.KindTimeout, "deploy", domain.StepDeploy,
			fmt.Sprintf("netlify upload did not finish within %s", d.timeout), reqCtx.Err())
	default:
		return domain.NewPipelineError(domain.KindDeployFailed, "deploy", domain.StepDeploy, err.Error(), err)
	}
}

// zipDir archives the regular files under dir with slash-separated
// relative names.
func zipDir(dir string) (*bytes.Buffer, int, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	files := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(w, f); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if err := zw.Close(); err != nil {
		return nil, 0, err
	}
	return buf, files, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
