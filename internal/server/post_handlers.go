package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/chaton/internal/auth"
	"github.com/primal-host/chaton/internal/content"
)

func postsResponse(c echo.Context, posts []content.Post) error {
	if posts == nil {
		posts = []content.Post{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"posts": posts,
	})
}

type postRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (r *postRequest) validate() string {
	r.Title = strings.TrimSpace(r.Title)
	r.Content = strings.TrimSpace(r.Content)
	switch {
	case r.Title == "":
		return "title is required"
	case r.Content == "":
		return "content is required"
	}
	return ""
}

type commentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleListPosts(c echo.Context) error {
	posts, err := s.Content.ListPosts(c.Request().Context())
	if err != nil {
		return fail(c, "listing posts", err)
	}
	return postsResponse(c, posts)
}

func (s *Server) handleGetPost(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	p, err := s.Content.GetPost(c.Request().Context(), id)
	if err != nil {
		return fail(c, "getting post "+id.String(), err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"post": p,
	})
}

func (s *Server) handleCreatePost(c echo.Context) error {
	var req postRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}

	p, err := s.Content.CreatePost(c.Request().Context(), getActor(c).ID, req.Title, req.Content)
	if err != nil {
		return fail(c, "creating post", err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"message": "Post created successfully.",
		"post":    p,
	})
}

func (s *Server) handleUpdatePost(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	var req postRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}

	ctx := c.Request().Context()
	existing, err := s.Content.GetPost(ctx, id)
	if err != nil {
		return fail(c, "getting post "+id.String(), err)
	}
	if err := auth.Authorize(getActor(c), existing.AuthorID); err != nil {
		return fail(c, "updating post", err)
	}

	p, err := s.Content.UpdatePost(ctx, id, req.Title, req.Content)
	if err != nil {
		return fail(c, "updating post "+id.String(), err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Post updated successfully.",
		"post":    p,
	})
}

func (s *Server) handleDeletePost(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}

	ctx := c.Request().Context()
	existing, err := s.Content.GetPost(ctx, id)
	if err != nil {
		return fail(c, "getting post "+id.String(), err)
	}
	if err := auth.Authorize(getActor(c), existing.AuthorID); err != nil {
		return fail(c, "deleting post", err)
	}

	if err := s.Content.DeletePost(ctx, id); err != nil {
		return fail(c, "deleting post "+id.String(), err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Post deleted successfully.",
	})
}

// --- Comments ---

func (s *Server) handleListComments(c echo.Context) error {
	postID, ok, err := paramID(c, "id")
	if !ok {
		return err
	}

	ctx := c.Request().Context()
	if _, err := s.Content.GetPost(ctx, postID); err != nil {
		return fail(c, "getting post "+postID.String(), err)
	}
	comments, err := s.Content.ListComments(ctx, postID)
	if err != nil {
		return fail(c, "listing comments of "+postID.String(), err)
	}
	if comments == nil {
		comments = []content.Comment{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"comments": comments,
	})
}

func (s *Server) handleCreateComment(c echo.Context) error {
	postID, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		return badRequest(c, "content is required")
	}

	cm, err := s.Content.CreateComment(c.Request().Context(), postID, getActor(c).ID, req.Content)
	if err != nil {
		return fail(c, "commenting on "+postID.String(), err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"message": "Comment created successfully.",
		"comment": cm,
	})
}

// ownedComment loads :commentId, checks it belongs to :id when the route
// carries a post, and authorizes the actor against its author.
func (s *Server) ownedComment(c echo.Context, what string) (*content.Comment, bool, error) {
	commentID, ok, err := paramID(c, "commentId")
	if !ok {
		return nil, false, err
	}

	cm, err := s.Content.GetComment(c.Request().Context(), commentID)
	if err != nil {
		return nil, false, fail(c, "getting comment "+commentID.String(), err)
	}
	if c.Param("id") != "" && c.Param("id") != cm.PostID.String() {
		return nil, false, fail(c, what, content.ErrCommentNotFound)
	}
	if err := auth.Authorize(getActor(c), cm.AuthorID); err != nil {
		return nil, false, fail(c, what, err)
	}
	return cm, true, nil
}

func (s *Server) handleUpdateComment(c echo.Context) error {
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		return badRequest(c, "content is required")
	}

	cm, ok, err := s.ownedComment(c, "updating comment")
	if !ok {
		return err
	}
	updated, err := s.Content.UpdateComment(c.Request().Context(), cm.ID, req.Content)
	if err != nil {
		return fail(c, "updating comment "+cm.ID.String(), err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Comment updated successfully.",
		"comment": updated,
	})
}

func (s *Server) handleDeleteComment(c echo.Context) error {
	cm, ok, err := s.ownedComment(c, "deleting comment")
	if !ok {
		return err
	}
	if err := s.Content.DeleteComment(c.Request().Context(), cm.ID); err != nil {
		return fail(c, "deleting comment "+cm.ID.String(), err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Comment deleted successfully.",
	})
}
