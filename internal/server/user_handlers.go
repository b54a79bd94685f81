package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/primal-host/chaton/internal/account"
	"github.com/primal-host/chaton/internal/auth"
)

// usersResponse wraps user lists so an empty result encodes as [].
func usersResponse(c echo.Context, users []account.User) error {
	if users == nil {
		users = []account.User{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"users": users,
	})
}

func (s *Server) handleGetUser(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	ctx := c.Request().Context()
	u, err := s.Accounts.GetByID(ctx, id)
	if err != nil {
		return fail(c, "getting user "+id.String(), err)
	}
	resp := map[string]any{
		"user": u,
	}
	// isFollowing is omitted on your own profile.
	if actor := getActor(c); actor.ID != id {
		following, err := s.Graph.IsFollowing(ctx, actor.ID, id)
		if err != nil {
			return fail(c, "checking follow of "+id.String(), err)
		}
		resp["isFollowing"] = following
	}
	return c.JSON(http.StatusOK, resp)
}

// handleUpdateProfile applies a multipart profile form. Only fields
// present in the form change. A new picture replaces the old file.
func (s *Server) handleUpdateProfile(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	if err := auth.Authorize(getActor(c), id); err != nil {
		return fail(c, "updating profile", err)
	}

	form, err := c.FormParams()
	if err != nil {
		return badRequest(c, "Invalid form body")
	}

	var upd account.ProfileUpdate
	if v, ok := form["username"]; ok && len(v) > 0 {
		name, err := auth.ValidateUsername(v[0])
		if err != nil {
			return fail(c, "validating username", err)
		}
		upd.Username = &name
	}
	if v, ok := form["bio"]; ok && len(v) > 0 {
		upd.Bio = &v[0]
	}
	if v, ok := form["location"]; ok && len(v) > 0 {
		upd.Location = &v[0]
	}

	ctx := c.Request().Context()
	var newRef, current string
	fh, err := c.FormFile("profilePicture")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return badRequest(c, "Invalid profile picture upload")
	default:
		if s.Avatars == nil {
			return errorJSON(c, http.StatusServiceUnavailable, "Unavailable", "Uploads are disabled")
		}
		// Saving identical bytes yields the live file's name, so the
		// failure path below must know which file is live.
		cur, err := s.Accounts.GetByID(ctx, id)
		if err != nil {
			return fail(c, "loading profile of "+id.String(), err)
		}
		current = cur.ProfilePicture

		f, err := fh.Open()
		if err != nil {
			return fail(c, "opening uploaded avatar", err)
		}
		newRef, err = s.Avatars.Save(id, f)
		f.Close()
		if err != nil {
			return fail(c, "saving avatar for "+id.String(), err)
		}
		upd.ProfilePicture = &newRef
	}

	u, previous, err := s.Accounts.UpdateProfile(ctx, id, upd)
	if err != nil {
		if newRef != "" && newRef != current {
			s.removeAvatar(newRef)
		}
		return fail(c, "updating profile of "+id.String(), err)
	}
	if previous != "" && previous != newRef {
		s.removeAvatar(previous)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"message": "Profile updated successfully.",
		"user":    u,
	})
}

func (s *Server) removeAvatar(ref string) {
	if s.Avatars == nil {
		return
	}
	if err := s.Avatars.Remove(ref); err != nil {
		log.Printf("Warning: failed to remove avatar %s: %v", ref, err)
	}
}

// handleDeleteUser removes an identity and everything it owns. Deleting
// yourself also clears the session cookie.
func (s *Server) handleDeleteUser(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	actor := getActor(c)
	if err := auth.Authorize(actor, id); err != nil {
		return fail(c, "deleting user", err)
	}

	u, err := s.Accounts.Delete(c.Request().Context(), id)
	if err != nil {
		return fail(c, "deleting user "+id.String(), err)
	}
	if s.Relay != nil {
		s.Relay.CloseUser(id)
	}
	if actor.ID == id {
		s.clearSessionCookie(c)
	}

	log.Printf("User deleted: %s (%s) by %s", u.Username, u.ID, actor.Username)
	return c.JSON(http.StatusOK, map[string]string{
		"message": "User deleted successfully.",
	})
}

func (s *Server) handleFollowed(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	users, err := s.Graph.Following(c.Request().Context(), id)
	if err != nil {
		return fail(c, "listing followed users of "+id.String(), err)
	}
	return usersResponse(c, users)
}

func (s *Server) handleFollowers(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	users, err := s.Graph.Followers(c.Request().Context(), id)
	if err != nil {
		return fail(c, "listing followers of "+id.String(), err)
	}
	return usersResponse(c, users)
}

func (s *Server) handleSearch(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	term := c.QueryParam("searchTerm")
	if term == "" {
		return usersResponse(c, nil)
	}
	users, err := s.Graph.Search(c.Request().Context(), id, term)
	if err != nil {
		return fail(c, "searching users", err)
	}
	return usersResponse(c, users)
}

func (s *Server) handleRecommended(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	users, err := s.Graph.Recommended(c.Request().Context(), id)
	if err != nil {
		return fail(c, "recommending users for "+id.String(), err)
	}
	return usersResponse(c, users)
}

type followRequest struct {
	UserIDToFollow string `json:"userIdToFollow"`
}

type unfollowRequest struct {
	UserIDToUnfollow string `json:"userIdToUnfollow"`
}

// handleFollow makes :id follow the user in the body.
func (s *Server) handleFollow(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	if err := auth.Authorize(getActor(c), id); err != nil {
		return fail(c, "following", err)
	}

	var req followRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	target, err := uuid.Parse(req.UserIDToFollow)
	if err != nil {
		return badRequest(c, "userIdToFollow must be a user id")
	}

	if err := s.Graph.Follow(c.Request().Context(), id, target); err != nil {
		return fail(c, "following "+target.String(), err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Followed successfully.",
	})
}

// handleUnfollow removes the edge from :id to the user in the body.
func (s *Server) handleUnfollow(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	if err := auth.Authorize(getActor(c), id); err != nil {
		return fail(c, "unfollowing", err)
	}

	var req unfollowRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	target, err := uuid.Parse(req.UserIDToUnfollow)
	if err != nil {
		return badRequest(c, "userIdToUnfollow must be a user id")
	}

	if err := s.Graph.Unfollow(c.Request().Context(), id, target); err != nil {
		return fail(c, "unfollowing "+target.String(), err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Unfollowed successfully.",
	})
}

// handleUserPosts returns the posts :id wrote.
func (s *Server) handleUserPosts(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	if _, err := s.Accounts.GetByID(c.Request().Context(), id); err != nil {
		return fail(c, "getting user "+id.String(), err)
	}
	posts, err := s.Content.PostsByAuthor(c.Request().Context(), id)
	if err != nil {
		return fail(c, "listing posts of "+id.String(), err)
	}
	return postsResponse(c, posts)
}

// handleFollowedPosts returns posts by everyone :id follows. It is
// public, matching the feed page that renders before sign-in.
func (s *Server) handleFollowedPosts(c echo.Context) error {
	id, ok, err := paramID(c, "id")
	if !ok {
		return err
	}
	posts, err := s.Content.FollowedPosts(c.Request().Context(), id)
	if err != nil {
		return fail(c, "listing followed posts for "+id.String(), err)
	}
	return postsResponse(c, posts)
}
