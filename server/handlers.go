package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/arturoeanton/wshbox/engine"
	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/report"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/websocket"
)

const defaultSampleName = "sample.js"

// handleSubmit accepts a multipart "sample" file or a raw body named by
// the name query parameter.
func (s *Server) handleSubmit(c echo.Context) error {
	name, data, err := readSample(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(data) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty sample")
	}

	j, err := s.Submit(name, data)
	switch {
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		return err
	}
	c.Response().Header().Set(echo.HeaderLocation, "/sample/"+j.ID)
	return c.JSON(http.StatusAccepted, j.Status())
}

func readSample(c echo.Context) (string, []byte, error) {
	if fh, err := c.FormFile("sample"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return "", nil, fmt.Errorf("opening upload: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return "", nil, fmt.Errorf("reading upload: %w", err)
		}
		return fh.Filename, data, nil
	}

	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return "", nil, fmt.Errorf("reading body: %w", err)
	}
	name := c.QueryParam("name")
	if name == "" {
		name = defaultSampleName
	}
	return name, data, nil
}

func (s *Server) handleList(c echo.Context) error {
	return c.JSON(http.StatusOK, s.jobs.Active())
}

func (s *Server) job(c echo.Context) (*Job, error) {
	j, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "unknown sample")
	}
	return j, nil
}

// result returns the finished result of the job, or 409 while it runs.
func (s *Server) result(c echo.Context) (*engine.Result, error) {
	j, err := s.job(c)
	if err != nil {
		return nil, err
	}
	if res := j.Status().Result; res != nil {
		return res, nil
	}
	return nil, echo.NewHTTPError(http.StatusConflict, "analysis not finished")
}

func (s *Server) handleStatus(c echo.Context) error {
	j, err := s.job(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, j.Status())
}

func (s *Server) handleDelete(c echo.Context) error {
	id := c.Param("id")
	if !s.jobs.Remove(id) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown sample")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleIOCs(c echo.Context) error {
	j, err := s.job(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(j.Events()))
}

func (s *Server) handleURLs(c echo.Context) error {
	res, err := s.result(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(res.URLs))
}

func (s *Server) handleStatic(c echo.Context) error {
	res, err := s.result(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(res.Findings))
}

func (s *Server) handleSnippets(c echo.Context) error {
	res, err := s.result(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(res.Snippets))
}

func (s *Server) handleResources(c echo.Context) error {
	res, err := s.result(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(res.Resources))
}

func (s *Server) handleResource(c echo.Context) error {
	res, err := s.result(c)
	if err != nil {
		return err
	}
	rid := c.Param("rid")
	for _, r := range res.Resources {
		if r.ID != rid {
			continue
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", r.ID))
		mime := r.MIMEType
		if mime == "" {
			mime = echo.MIMEOctetStream
		}
		return c.Blob(http.StatusOK, mime, r.Data)
	}
	return echo.NewHTTPError(http.StatusNotFound, "unknown resource")
}

func (s *Server) handleSummary(c echo.Context) error {
	res, err := s.result(c)
	if err != nil {
		return err
	}
	text, err := report.RenderSummary(res)
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, text)
}

// handleEvents streams the events of a job over a websocket: the events
// recorded so far, the live ones, then a final analysis message.
func (s *Server) handleEvents(c echo.Context) error {
	j, err := s.job(c)
	if err != nil {
		return err
	}
	websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()
		past, live, stop := j.Watch()
		defer stop()

		send := func(e ioc.Event) bool {
			msg := report.Message{Type: report.MessageEvent, AnalysisID: j.ID, Sample: j.Sample, Event: &e}
			return websocket.JSON.Send(ws, msg) == nil
		}
		for _, e := range past {
			if !send(e) {
				return
			}
		}
		for e := range live {
			if !send(e) {
				return
			}
		}

		st := j.Status()
		msg := report.Message{Type: report.MessageAnalysis, AnalysisID: j.ID, Sample: j.Sample, Summary: st.Summary}
		if st.Result != nil {
			msg.SHA256 = st.Result.SHA256
		}
		websocket.JSON.Send(ws, msg)
	}).ServeHTTP(c.Response(), c.Request())
	return nil
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
