package authapi

type registerRequest struct {
	Firstname string `json:"firstname" validate:"max=100"`
	Lastname  string `json:"lastname" validate:"max=100"`
	Email     string `json:"email" validate:"required,email,max=320"`
	Password  string `json:"password" validate:"required,max=1024"`
	Role      string `json:"role" validate:"omitempty,oneof=ADMIN MANAGER USER admin manager user"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword      string `json:"currentPassword" validate:"required"`
	NewPassword          string `json:"newPassword" validate:"required,max=1024"`
	ConfirmationPassword string `json:"confirmationPassword" validate:"required"`
}

type authenticationResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
