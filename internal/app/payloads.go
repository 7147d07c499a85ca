package app

import (
	"feedbackhub/api/internal/store"
	"feedbackhub/api/internal/votes"
)

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"username":  user.Username,
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"name":      user.DisplayName(),
		"role":      user.Role,
		"isActive":  user.IsActive,
		"createdAt": user.CreatedAt,
	}
}

func usersPayload(users []store.User) []map[string]any {
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return items
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"email":        session.Email,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func boardPayload(board store.Board) map[string]any {
	return map[string]any{
		"id":                     board.ID,
		"name":                   board.Name,
		"description":            board.Description,
		"slug":                   board.Slug,
		"visibility":             board.Visibility,
		"ownerId":                board.OwnerID,
		"ownerName":              board.OwnerName,
		"moderatorIds":           nonNilIDs(board.ModeratorIDs),
		"memberIds":              nonNilIDs(board.MemberIDs),
		"allowAnonymousFeedback": board.AllowAnonymousFeedback,
		"requireApproval":        board.RequireApproval,
		"allowComments":          board.AllowComments,
		"allowVoting":            board.AllowVoting,
		"isActive":               board.IsActive,
		"feedbackCount":          board.FeedbackCount,
		"totalVotes":             board.TotalVotes,
		"createdAt":              board.CreatedAt,
		"updatedAt":              board.UpdatedAt,
	}
}

func boardsPayload(boards []store.Board) []map[string]any {
	items := make([]map[string]any, 0, len(boards))
	for _, board := range boards {
		items = append(items, boardPayload(board))
	}
	return items
}

// feedbackSummaryPayload is the list shape. The anonymous email is never
// listed.
func feedbackSummaryPayload(item store.Feedback) map[string]any {
	tally := votes.Tally{Up: item.Upvotes, Down: item.Downvotes}
	payload := map[string]any{
		"id":           item.ID,
		"title":        item.Title,
		"description":  item.Description,
		"status":       item.Status,
		"priority":     item.Priority,
		"category":     item.Category,
		"boardId":      item.BoardID,
		"authorId":     item.AuthorID,
		"authorName":   item.AuthorName(),
		"assignedToId": item.AssignedToID,
		"isActive":     item.IsActive,
		"upvotes":      item.Upvotes,
		"downvotes":    item.Downvotes,
		"voteCount":    tally.Net(),
		"totalVotes":   tally.Total(),
		"commentCount": item.CommentCount,
		"tags":         nonNilIDs(item.Tags),
		"createdAt":    item.CreatedAt,
		"updatedAt":    item.UpdatedAt,
	}
	return payload
}

func feedbackListPayload(items []store.Feedback) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, feedbackSummaryPayload(item))
	}
	return out
}

func feedbackPayload(detail FeedbackDetail) map[string]any {
	payload := feedbackSummaryPayload(detail.Feedback)
	if detail.CanModerate || detail.Feedback.AuthorID != nil {
		payload["authorEmail"] = detail.Feedback.AuthorEmail()
	}
	var myVote any
	if detail.MyVote != "" {
		myVote = string(detail.MyVote)
	}
	payload["myVote"] = myVote
	payload["upvoters"] = nonNilIDs(detail.Upvoters)
	payload["downvoters"] = nonNilIDs(detail.Downvoters)
	payload["canEdit"] = detail.CanEdit
	payload["canVote"] = detail.CanVote
	payload["canModerate"] = detail.CanModerate
	return payload
}

func statusHistoryPayload(entry store.StatusHistory) map[string]any {
	return map[string]any{
		"id":          entry.ID,
		"feedbackId":  entry.FeedbackID,
		"oldStatus":   entry.OldStatus,
		"newStatus":   entry.NewStatus,
		"changedById": entry.ChangedByID,
		"changedBy":   entry.ChangedBy,
		"notes":       entry.Notes,
		"changedAt":   entry.ChangedAt,
	}
}

func statusHistoryListPayload(entries []store.StatusHistory) []map[string]any {
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, statusHistoryPayload(entry))
	}
	return items
}

func commentPayload(view CommentView) map[string]any {
	comment := view.Comment
	tally := votes.Tally{Up: comment.Upvotes, Down: comment.Downvotes}
	var myVote any
	if view.MyVote != "" {
		myVote = string(view.MyVote)
	}
	payload := map[string]any{
		"id":         comment.ID,
		"content":    comment.Content,
		"feedbackId": comment.FeedbackID,
		"parentId":   comment.ParentID,
		"isReply":    comment.IsReply(),
		"authorId":   comment.AuthorID,
		"authorName": comment.AuthorName(),
		"isActive":   comment.IsActive,
		"upvotes":    comment.Upvotes,
		"downvotes":  comment.Downvotes,
		"voteCount":  tally.Net(),
		"totalVotes": tally.Total(),
		"replyCount": view.ReplyCount,
		"myVote":     myVote,
		"canEdit":    view.CanEdit,
		"createdAt":  comment.CreatedAt,
		"updatedAt":  comment.UpdatedAt,
	}
	if view.Replies != nil {
		payload["replies"] = commentsPayload(view.Replies)
	}
	return payload
}

func commentsPayload(views []CommentView) []map[string]any {
	items := make([]map[string]any, 0, len(views))
	for _, view := range views {
		items = append(items, commentPayload(view))
	}
	return items
}

func invitationPayload(view InvitationView) map[string]any {
	item := view.Invitation
	return map[string]any{
		"id":            item.ID,
		"boardId":       item.BoardID,
		"boardName":     item.BoardName,
		"email":         item.Email,
		"invitedById":   item.InvitedByID,
		"invitedUserId": item.InvitedUserID,
		"role":          item.Role,
		"status":        item.Status,
		"message":       item.Message,
		"expiresAt":     item.ExpiresAt,
		"respondedAt":   item.RespondedAt,
		"isExpired":     view.IsExpired,
		"createdAt":     item.CreatedAt,
	}
}

func invitationsPayload(views []InvitationView) []map[string]any {
	items := make([]map[string]any, 0, len(views))
	for _, view := range views {
		items = append(items, invitationPayload(view))
	}
	return items
}

func attachmentPayload(view AttachmentView) map[string]any {
	item := view.Attachment
	return map[string]any{
		"id":          item.ID,
		"feedbackId":  item.FeedbackID,
		"fileName":    item.FileName,
		"contentType": item.ContentType,
		"sizeBytes":   item.SizeBytes,
		"uploadedBy":  item.UploadedBy,
		"url":         view.URL,
		"createdAt":   item.CreatedAt,
	}
}

func attachmentsPayload(views []AttachmentView) []map[string]any {
	items := make([]map[string]any, 0, len(views))
	for _, view := range views {
		items = append(items, attachmentPayload(view))
	}
	return items
}

func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
