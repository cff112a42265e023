package dto

type SignupRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
}

func (r *SignupRequest) FullName() string {
	if r.LastName == "" {
		return r.FirstName
	}
	return r.FirstName + " " + r.LastName
}

type SignupResponse struct {
	Status           string `json:"status"`
	UserID           string `json:"user_id"`
	PlexInviteStatus string `json:"plex_invite_status"`
}

type CheckoutResponse struct {
	CheckoutURL string  `json:"checkout_url"`
	PlanName    string  `json:"plan_name"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
}
