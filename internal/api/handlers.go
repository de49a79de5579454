package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yokitheyo/segscribe/internal/events"
	"github.com/yokitheyo/segscribe/internal/model"
	"github.com/yokitheyo/segscribe/internal/taskmgr"
)

// Envelope is the response body of every /api route.
type Envelope struct {
	OK     int    `json:"ok"`
	ErrNo  int    `json:"err_no"`
	Failed string `json:"failed,omitempty"`
	Data   any    `json:"data"`
}

type APIHandler struct {
	TM     *taskmgr.TaskManager
	Events *events.Bus
	Logger *slog.Logger

	upgrader websocket.Upgrader
}

func RegisterHandlers(r *gin.Engine, tm *taskmgr.TaskManager, bus *events.Bus, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &APIHandler{
		TM:     tm,
		Events: bus,
		Logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	g := r.Group("/api")
	g.POST("/prepare", h.prepare)
	g.POST("/upload", h.upload)
	g.POST("/uploadFile", h.uploadFile)
	g.POST("/getProgress", h.getProgress)
	g.POST("/getResult", h.getResult)
	g.GET("/tasks/:id/events", h.events)
	g.GET("/tasks/:id/ws", h.stream)
}

func (h *APIHandler) prepare(c *gin.Context) {
	params := taskmgr.CreateParams{
		FileName:            c.PostForm("file_name"),
		HasSeparateSpeakers: strings.EqualFold(c.PostForm("has_separate"), "true"),
		Language:            c.DefaultPostForm("language", "default"),
		DomainHint:          c.PostForm("pd"),
		HotWords:            c.PostForm("hotWord"),
	}

	var err error
	if params.FileLength, err = formInt64(c, "file_len", 0); err != nil {
		h.fail(c, err)
		return
	}
	total, err := formInt64(c, "slice_num", 1)
	if err != nil {
		h.fail(c, err)
		return
	}
	params.TotalSegments = int(total)
	speakers, err := formInt64(c, "speaker_number", 2)
	if err != nil {
		h.fail(c, err)
		return
	}
	params.SpeakerNumber = int(speakers)

	task, err := h.TM.CreateTask(c.Request.Context(), params)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, task.ID)
}

func (h *APIHandler) upload(c *gin.Context) {
	taskID := c.PostForm("task_id")
	segmentID, err := formInt64(c, "slice_id", 0)
	if err != nil {
		h.fail(c, err)
		return
	}
	declared, err := formInt64(c, "segment_len", 0)
	if err != nil {
		h.fail(c, err)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		h.fail(c, badRequest("missing file"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()

	if err := h.TM.AcceptSegment(c.Request.Context(), taskID, int(segmentID), declared, fh.Filename, f); err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"task_id": taskID, "slice_id": segmentID})
}

func (h *APIHandler) uploadFile(c *gin.Context) {
	taskID := c.PostForm("task_id")
	fh, err := c.FormFile("file")
	if err != nil {
		h.fail(c, badRequest("missing file"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()

	if err := h.TM.AcceptFile(c.Request.Context(), taskID, fh.Filename, f); err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"task_id": taskID})
}

func (h *APIHandler) getProgress(c *gin.Context) {
	p, err := h.TM.GetProgress(c.Request.Context(), c.PostForm("task_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, p)
}

func (h *APIHandler) getResult(c *gin.Context) {
	spans, err := h.TM.GetResult(c.Request.Context(), c.PostForm("task_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, spans)
}

func (h *APIHandler) events(c *gin.Context) {
	taskID := c.Param("id")
	if _, err := h.TM.GetTask(c.Request.Context(), taskID); err != nil {
		h.fail(c, err)
		return
	}
	since, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		h.fail(c, badRequest("since must be an integer"))
		return
	}
	h.ok(c, h.Events.Since(taskID, since))
}

// stream pushes events for one task over a websocket until the task
// finishes or the client goes away.
func (h *APIHandler) stream(c *gin.Context) {
	taskID := c.Param("id")
	task, err := h.TM.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.fail(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "task_id", taskID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := events.Event{TaskID: task.ID, Type: events.TypeStatus, Status: string(task.Status), Message: task.Error}
	if err := conn.WriteJSON(snapshot); err != nil || task.Status.Terminal() {
		return
	}

	var seq int64
	for {
		wake := h.Events.Wait()
		for _, ev := range h.Events.Since(taskID, seq) {
			seq = ev.Seq
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == events.TypeStatus || ev.Type == events.TypeError {
				if model.TaskStatus(ev.Status).Terminal() {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"),
						time.Now().Add(time.Second))
					return
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
	}
}

func (h *APIHandler) ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{OK: 0, ErrNo: int(taskmgr.CodeOK), Data: data})
}

func (h *APIHandler) fail(c *gin.Context, err error) {
	code := taskmgr.CodeOf(err)
	msg := err.Error()
	if code == taskmgr.CodeInternal {
		h.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.JSON(httpStatus(code), Envelope{OK: -1, ErrNo: int(code), Failed: msg})
}

func httpStatus(code taskmgr.Code) int {
	switch code {
	case taskmgr.CodeTaskNotFound:
		return http.StatusNotFound
	case taskmgr.CodeBadRequest, taskmgr.CodeSegmentOutOfRange:
		return http.StatusBadRequest
	case taskmgr.CodeInvalidTaskState, taskmgr.CodeDuplicateSegment, taskmgr.CodeOutOfOrderSegment,
		taskmgr.CodeIncompleteUpload, taskmgr.CodeTaskNotCompleted:
		return http.StatusConflict
	case taskmgr.CodeOK:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func formInt64(c *gin.Context, key string, def int64) (int64, error) {
	raw := strings.TrimSpace(c.PostForm(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest(key + " must be an integer")
	}
	return n, nil
}

func badRequest(detail string) error {
	return &taskmgr.Error{Code: taskmgr.CodeBadRequest, Msg: "bad request: " + detail}
}
