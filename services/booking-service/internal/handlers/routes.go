package handlers

import "net/http"

type Routes struct {
	Doctors      *DoctorHandler
	Appointments *AppointmentHandler
	Auth         *AuthHandler
	Config       *ConfigHandler
	Authn        *Authenticator
}

func (rt Routes) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/doctors", rt.Doctors.List)
	mux.HandleFunc("GET /api/doctors/{id}", rt.Doctors.Get)
	mux.HandleFunc("GET /api/doctors/specialty/{specialty}", rt.Doctors.BySpecialty)

	mux.HandleFunc("POST /api/appointments", rt.Authn.Require(rt.Appointments.Create))
	mux.HandleFunc("GET /api/appointments", rt.Authn.Require(rt.Appointments.List))
	mux.HandleFunc("POST /api/appointments/{id}/cancel", rt.Authn.Require(rt.Appointments.Cancel))

	mux.HandleFunc("GET /api/config", rt.Config.Get)

	mux.HandleFunc("POST /api/register", rt.Auth.Register)
	mux.HandleFunc("POST /api/login", rt.Auth.Login)
	mux.HandleFunc("POST /api/token/refresh", rt.Auth.Refresh)
	mux.HandleFunc("POST /api/logout", rt.Auth.Logout)
	mux.HandleFunc("GET /api/user", rt.Authn.Require(rt.Auth.Me))
}
