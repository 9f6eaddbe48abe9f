package frontend

import (
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"text/template"

	"github.com/labstack/echo/v4"

	"github.com/shelfsight/planoview/internal/backend/database"
	"github.com/shelfsight/planoview/internal/backend/storage"
	"github.com/shelfsight/planoview/internal/backend/validation"
	"github.com/shelfsight/planoview/internal/core"
)

const (
	MainPageName = "index.html"
	mimePNG      = "image/png"
)

type FrontendService struct {
	coreService *core.CoreService
	config      *core.Config
}

func NewFrontendService(config *core.Config, coreService *core.CoreService) *FrontendService {
	return &FrontendService{
		coreService: coreService,
		config:      config,
	}
}

// rootRedirectHandler redirects root path to index.html
func (service *FrontendService) rootRedirectHandler(ctx echo.Context) error {
	return ctx.Redirect(http.StatusMovedPermanently, "/"+MainPageName)
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	// Create template renderer
	e.Renderer = &Template{
		templates: template.Must(template.New("").ParseFS(templateFS, viewsPattern)),
	}

	e.GET("/", service.rootRedirectHandler) // Redirect root to index.html
	e.GET("/"+MainPageName, service.indexHandler)

	// Review view
	e.GET("/htmx/results", service.htmxListResultsHandler)
	e.GET("/htmx/results/:id", service.htmxResultDetailHandler)
	e.POST("/htmx/results/:id/review", service.htmxSaveReviewHandler)
	e.GET("/htmx/stats", service.htmxStatsHandler)

	// Import and export views
	e.GET("/htmx/projects", service.htmxProjectOptionsHandler)
	e.POST("/htmx/import", service.htmxImportHandler)
	e.POST("/htmx/export", service.htmxExportHandler)
	e.GET("/htmx/status", service.htmxStatusHandler)

	// Static assets
	e.GET("/icon.svg", service.iconHandler)
	e.GET("/styles.css", service.stylesHandler)
	e.GET("/placeholder.png", service.placeholderHandler)
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	return ctx.Render(http.StatusOK, MainPageName, map[string]string{
		"AppName": service.config.AppName,
		"Version": service.config.AppVersion,
	})
}

func (service *FrontendService) htmxListResultsHandler(ctx echo.Context) error {
	results, err := service.coreService.ListResults(ctx.Request().Context())
	if err != nil {
		slog.Error("htmxListResultsHandler: failed to list results",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to list results")
	}

	service.setNoCache(ctx)
	return ctx.HTML(http.StatusOK, service.buildResultListHTML(results))
}

func (service *FrontendService) htmxResultDetailHandler(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		slog.Warn("htmxResultDetailHandler: invalid result id",
			"status", http.StatusBadRequest, "id", ctx.Param("id"))
		return ctx.String(http.StatusBadRequest, "Invalid result ID")
	}

	detail, err := service.coreService.GetResultDetail(ctx.Request().Context(), id)
	if err != nil {
		slog.Warn("htmxResultDetailHandler: result not available",
			"status", http.StatusNotFound, "result_id", id, "error", err)
		return ctx.String(http.StatusNotFound, "Result not available")
	}

	service.setNoCache(ctx)
	return ctx.HTML(http.StatusOK, service.buildResultDetailHTML(detail))
}

func (service *FrontendService) htmxSaveReviewHandler(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		slog.Warn("htmxSaveReviewHandler: invalid result id",
			"status", http.StatusBadRequest, "id", ctx.Param("id"))
		return ctx.String(http.StatusBadRequest, "Invalid result ID")
	}
	assessment := ctx.FormValue("assessment") == "pass"
	comment := strings.TrimSpace(ctx.FormValue("comment"))

	if err := service.coreService.UpdateReview(ctx.Request().Context(), id, comment, assessment); err != nil {
		slog.Error("htmxSaveReviewHandler: failed to save review",
			"status", http.StatusInternalServerError, "result_id", id, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to save review")
	}

	detail, err := service.coreService.GetResultDetail(ctx.Request().Context(), id)
	if err != nil {
		slog.Error("htmxSaveReviewHandler: failed to reload result",
			"status", http.StatusInternalServerError, "result_id", id, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to reload result")
	}

	// Out-of-band swap refreshes the stats cards alongside the detail card.
	statsHTML, statsErr := service.buildStatsHTML(ctx)
	if statsErr != nil {
		slog.Error("htmxSaveReviewHandler: failed to build stats for OOB update", "error", statsErr)
		return ctx.HTML(http.StatusOK, service.buildResultDetailHTML(detail))
	}
	statsOOB := fmt.Sprintf(`<div id="stats-cards" hx-swap-oob="true">%s</div>`, statsHTML)
	return ctx.HTML(http.StatusOK, service.buildResultDetailHTML(detail)+statsOOB)
}

func (service *FrontendService) htmxStatsHandler(ctx echo.Context) error {
	statsHTML, err := service.buildStatsHTML(ctx)
	if err != nil {
		slog.Error("htmxStatsHandler: failed to compute stats",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to compute stats")
	}

	service.setNoCache(ctx)
	return ctx.HTML(http.StatusOK, statsHTML)
}

func (service *FrontendService) htmxProjectOptionsHandler(ctx echo.Context) error {
	projects, err := service.coreService.Projects(ctx.Request().Context())
	if err != nil {
		slog.Error("htmxProjectOptionsHandler: failed to list projects",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.HTML(http.StatusOK, `<option value="">Label Studio unavailable</option>`)
	}

	var b strings.Builder
	if len(projects) == 0 {
		b.WriteString(`<option value="">No projects found</option>`)
	}
	for _, project := range projects {
		b.WriteString(fmt.Sprintf(`<option value="%d">%s (%d tasks)</option>`,
			project.ID, html.EscapeString(project.Title), project.TaskNumber))
	}

	service.setNoCache(ctx)
	return ctx.HTML(http.StatusOK, b.String())
}

func (service *FrontendService) htmxImportHandler(ctx echo.Context) error {
	projectID, err := strconv.Atoi(ctx.FormValue("project_id"))
	if err != nil || projectID <= 0 {
		slog.Warn("htmxImportHandler: invalid project id",
			"status", http.StatusBadRequest, "project_id", ctx.FormValue("project_id"))
		return ctx.HTML(http.StatusOK, importMessageHTML("Select a project before importing", true))
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		slog.Warn("htmxImportHandler: expected multipart form",
			"status", http.StatusBadRequest, "error", err)
		return ctx.HTML(http.StatusOK, importMessageHTML("Failed to read uploaded files", true))
	}
	headers := form.File["images"]
	if len(headers) == 0 {
		return ctx.HTML(http.StatusOK, importMessageHTML("Attach at least one image", true))
	}

	files := make([]storage.UploadFile, 0, len(headers))
	for _, header := range headers {
		src, err := header.Open()
		if err != nil {
			slog.Error("htmxImportHandler: failed to open uploaded file",
				"status", http.StatusInternalServerError, "error", err, "filename", header.Filename)
			return ctx.HTML(http.StatusOK, importMessageHTML("Failed to open "+html.EscapeString(header.Filename), true))
		}
		content, err := io.ReadAll(src)
		if cerr := src.Close(); cerr != nil {
			slog.Error("htmxImportHandler: failed to close uploaded file reader", "error", cerr, "filename", header.Filename)
		}
		if err != nil {
			slog.Error("htmxImportHandler: failed to read uploaded file",
				"status", http.StatusInternalServerError, "error", err, "filename", header.Filename)
			return ctx.HTML(http.StatusOK, importMessageHTML("Failed to read "+html.EscapeString(header.Filename), true))
		}
		files = append(files, storage.UploadFile{
			Name:        header.Filename,
			Content:     content,
			ContentType: validation.ContentType(content),
		})
	}

	result, err := service.coreService.RunImport(ctx.Request().Context(), projectID, files)
	if err != nil {
		slog.Error("htmxImportHandler: import workflow failed",
			"project_id", projectID, "error", err)
		return ctx.HTML(http.StatusOK, importMessageHTML(html.EscapeString(err.Error()), true))
	}

	message := fmt.Sprintf("Imported %d of %d images into %s (%d tasks synced)",
		result.Upload.Successful, result.Upload.Total, html.EscapeString(result.Upload.Folder), result.TaskCount)
	return ctx.HTML(http.StatusOK, importMessageHTML(message, false))
}

func (service *FrontendService) htmxExportHandler(ctx echo.Context) error {
	projectID, err := strconv.Atoi(ctx.FormValue("project_id"))
	if err != nil || projectID <= 0 {
		slog.Warn("htmxExportHandler: invalid project id",
			"status", http.StatusBadRequest, "project_id", ctx.FormValue("project_id"))
		return ctx.HTML(http.StatusOK, exportMessageHTML("Select a project before exporting", true))
	}

	result, err := service.coreService.TriggerExport(ctx.Request().Context(), projectID)
	if err != nil {
		slog.Error("htmxExportHandler: export failed", "project_id", projectID, "error", err)
		return ctx.HTML(http.StatusOK, exportMessageHTML(html.EscapeString(err.Error()), true))
	}
	return ctx.HTML(http.StatusOK, exportMessageHTML(
		fmt.Sprintf("Export for project %d completed (status %d)", result.ProjectID, result.StatusCode), false))
}

func (service *FrontendService) htmxStatusHandler(ctx echo.Context) error {
	status := service.coreService.Status(ctx.Request().Context())

	var b strings.Builder
	b.WriteString(`<ul class="status-list">`)
	b.WriteString(statusItemHTML("Database", status.Database))
	b.WriteString(statusItemHTML("Label Studio", status.LabelStudio))
	b.WriteString(statusItemHTML("Cache", status.Cache))
	b.WriteString(`</ul>`)

	service.setNoCache(ctx)
	return ctx.HTML(http.StatusOK, b.String())
}

func (service *FrontendService) buildResultListHTML(results []*database.Result) string {
	var b strings.Builder
	if len(results) == 0 {
		b.WriteString(`<p>No analysis results yet.</p>`)
		return b.String()
	}

	b.WriteString(`<table role="grid"><thead><tr><th>Image</th><th>Assessment</th><th>Comment</th><th>Analyzed</th></tr></thead><tbody>`)
	for _, result := range results {
		assessment := `<span class="badge fail">Fail</span>`
		if result.ComplianceAssessment {
			assessment = `<span class="badge pass">Pass</span>`
		}
		comment := "&mdash;"
		if result.ReviewComment != "" {
			comment = html.EscapeString(result.ReviewComment)
		}
		b.WriteString(fmt.Sprintf(`<tr hx-get="/htmx/results/%d" hx-target="#result-detail" hx-swap="innerHTML" class="result-row">
	<td>%s</td>
	<td>%s</td>
	<td>%s</td>
	<td>%s</td>
</tr>`, result.ID, html.EscapeString(result.ImageName), assessment, comment,
			result.Timestamp.Format("2006-01-02 15:04")))
	}
	b.WriteString(`</tbody></table>`)
	return b.String()
}

func (service *FrontendService) buildResultDetailHTML(detail *core.ResultDetail) string {
	imageURL := detail.PresignedURL
	if imageURL == "" {
		imageURL = "/placeholder.png"
	}

	assessmentPass := ""
	assessmentFail := " checked"
	if detail.ComplianceAssessment {
		assessmentPass = " checked"
		assessmentFail = ""
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf(`<article>
	<header><strong>%s</strong> <small>analyzed %s</small></header>
	<img src="%s" alt="Shelf image %s" onerror="this.src='/placeholder.png'" style="max-width:100%%;height:auto">`,
		html.EscapeString(detail.ImageName),
		detail.Timestamp.Format("2006-01-02 15:04"),
		imageURL,
		html.EscapeString(detail.ImageName)))

	if detail.Breakdown != nil {
		b.WriteString(service.buildBreakdownHTML(detail.Breakdown))
	}

	b.WriteString(fmt.Sprintf(`<form hx-post="/htmx/results/%d/review" hx-target="#result-detail" hx-swap="innerHTML">
	<fieldset>
		<label><input type="radio" name="assessment" value="pass"%s> Compliant</label>
		<label><input type="radio" name="assessment" value="fail"%s> Non-compliant</label>
	</fieldset>
	<textarea name="comment" rows="3" placeholder="Review comment">%s</textarea>
	<button type="submit">Save review</button>
</form>
</article>`, detail.ID, assessmentPass, assessmentFail, html.EscapeString(detail.ReviewComment)))
	return b.String()
}

func (service *FrontendService) buildBreakdownHTML(breakdown *core.ProductBreakdown) string {
	var b strings.Builder
	b.WriteString(`<table class="breakdown"><thead><tr><th>Shelf</th>`)
	brands := breakdown.Brands()
	for _, brand := range brands {
		b.WriteString(fmt.Sprintf(`<th>%s</th>`, html.EscapeString(brand)))
	}
	b.WriteString(`<th>Total</th></tr></thead><tbody>`)
	for _, shelf := range breakdown.Shelves {
		b.WriteString(fmt.Sprintf(`<tr><td>%d</td>`, shelf.Number))
		for _, brand := range brands {
			b.WriteString(fmt.Sprintf(`<td>%d</td>`, shelf.Drinks[brand]))
		}
		b.WriteString(fmt.Sprintf(`<td>%d</td></tr>`, shelf.Total))
	}
	b.WriteString(fmt.Sprintf(`</tbody><tfoot><tr><td colspan="%d">All shelves</td><td>%d</td></tr></tfoot></table>`,
		len(brands)+1, breakdown.Total))
	return b.String()
}

func (service *FrontendService) buildStatsHTML(ctx echo.Context) (string, error) {
	stats, err := service.coreService.Stats(ctx.Request().Context())
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(`<div class="stat-grid">`)
	b.WriteString(statCardHTML("Total", stats.Total))
	b.WriteString(statCardHTML("Compliant", stats.Pass))
	b.WriteString(statCardHTML("Non-compliant", stats.Fail))
	b.WriteString(statCardHTML("Commented", stats.Commented))
	b.WriteString(`</div>`)
	return b.String(), nil
}

func statCardHTML(label string, value int) string {
	return fmt.Sprintf(`<article class="stat-card"><h2>%d</h2><p>%s</p></article>`, value, label)
}

func statusItemHTML(label, state string) string {
	class := "status-bad"
	if state == "ok" {
		class = "status-ok"
	} else if state == "disabled" {
		class = "status-off"
	}
	return fmt.Sprintf(`<li><span class="%s"></span>%s: %s</li>`, class, label, html.EscapeString(state))
}

func importMessageHTML(message string, isError bool) string {
	class := "notice"
	if isError {
		class = "notice error"
	}
	return fmt.Sprintf(`<div id="import-result" class="%s">%s</div>`, class, message)
}

func exportMessageHTML(message string, isError bool) string {
	class := "notice"
	if isError {
		class = "notice error"
	}
	return fmt.Sprintf(`<div id="export-result" class="%s">%s</div>`, class, message)
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}

func (service *FrontendService) iconHandler(ctx echo.Context) error {
	data, err := assetsFS.ReadFile("views/icon.svg")
	if err != nil {
		slog.Error("iconHandler: failed to read icon.svg", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, "image/svg+xml", data)
}

func (service *FrontendService) stylesHandler(ctx echo.Context) error {
	data, err := assetsFS.ReadFile("views/styles.css")
	if err != nil {
		slog.Error("stylesHandler: failed to read styles.css", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load styles")
	}
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800")
	return ctx.Blob(http.StatusOK, "text/css", data)
}

func (service *FrontendService) placeholderHandler(ctx echo.Context) error {
	data, err := renderPlaceholderPNG()
	if err != nil {
		slog.Error("placeholderHandler: failed to render placeholder", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to render placeholder")
	}
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, mimePNG, data)
}
