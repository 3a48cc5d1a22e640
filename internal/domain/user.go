package domain

type User struct {
	ID           string `db:"id"`
	Email        string `db:"email"`
	Name         string `db:"name"`
	BusinessName string `db:"business_name"`
	Hash         string `db:"password_hash"`
	Role         string `db:"role"`
}

func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, UserName: u.Name, BusinessName: u.BusinessName}
}
